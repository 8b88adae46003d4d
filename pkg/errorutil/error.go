package errorutil

import (
	"errors"
	"fmt"
)

// ConfigError marks an invalid group, queue or strategy definition.
// Fatal at startup.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Message
}

// Configf builds a ConfigError.
func Configf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// QueueNotFoundError marks a queue missing or inaccessible at the
// backend. Fatal for that queue only; the group keeps polling the rest.
type QueueNotFoundError struct {
	Queue string
	Err   error
}

func (e *QueueNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue %q not found: %v", e.Queue, e.Err)
	}
	return fmt.Sprintf("queue %q not found", e.Queue)
}

func (e *QueueNotFoundError) Unwrap() error { return e.Err }

// TransientError marks a timeout or throttle on a backend call.
// Retried transparently through the empty-fetch pause cycle, never
// surfaced to the handler.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// HandlerError wraps an error raised by the user handler or a
// middleware. Governed by the retry / auto-delete policy; never crashes
// the dispatch loop.
type HandlerError struct {
	Queue     string
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for message %s on queue %s: %v", e.MessageID, e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrShutdownTimeout signals that the hard-stop deadline elapsed with
// workers still running. Triggers abandonment, not a crash.
var ErrShutdownTimeout = errors.New("shutdown timeout elapsed with workers still running")

// IsTransient reports whether err should feed the pause/backoff cycle
// instead of disabling the queue.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatalForQueue reports whether err permanently disables the queue it
// came from.
func IsFatalForQueue(err error) bool {
	var qe *QueueNotFoundError
	return errors.As(err, &qe)
}
