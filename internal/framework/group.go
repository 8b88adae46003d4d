package framework

import (
	"time"

	"github.com/wsqyouth/sqsflow/pkg/errorutil"
)

// RetryIntervals maps a delivery attempt (1-based) to the visibility
// delay applied after a handler failure. Returning a negative duration
// means "no explicit retry, let the visibility timeout expire".
type RetryIntervals func(attempt int) time.Duration

// IntervalsFromSeconds builds a RetryIntervals from a fixed list of
// seconds. Attempts past the end of the list reuse the last entry.
func IntervalsFromSeconds(seconds []int) RetryIntervals {
	if len(seconds) == 0 {
		return nil
	}
	return func(attempt int) time.Duration {
		idx := attempt - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(seconds) {
			idx = len(seconds) - 1
		}
		return time.Duration(seconds[idx]) * time.Second
	}
}

// ProcessingGroup is one independently configured set of queues sharing
// a concurrency pool and a polling strategy. One Manager per group;
// lifetime equals the process lifetime.
type ProcessingGroup struct {
	Name        string
	Concurrency int           // worker slot limit
	Delay       time.Duration // pause applied to empty queues and idle loops
	WaitTime    time.Duration // long-poll wait per receive, default 0

	Queues []*Queue

	// Processing policy.
	AutoDelete           bool
	Batch                bool // hand the whole fetch to one handler call
	RetryIntervals       RetryIntervals
	ExtendVisibility     bool          // keep re-extending visibility while the handler runs
	VisibilityTimeout    time.Duration // the queue's configured visibility, needed by the extender
	Parser               BodyParser

	Handler      Handler
	BatchHandler BatchHandler
}

// Validate checks the group definition. All violations are fatal at
// startup.
func (g *ProcessingGroup) Validate() error {
	if g.Name == "" {
		return errorutil.Configf("group name is required")
	}
	if g.Concurrency <= 0 {
		return errorutil.Configf("group %q concurrency must be positive, got %d", g.Name, g.Concurrency)
	}
	if len(g.Queues) == 0 {
		return errorutil.Configf("group %q has no queues", g.Name)
	}
	if g.Batch {
		if g.RetryIntervals != nil {
			return errorutil.Configf("group %q: retry intervals and batch mode are mutually exclusive", g.Name)
		}
		if g.ExtendVisibility {
			return errorutil.Configf("group %q: visibility extension and batch mode are mutually exclusive", g.Name)
		}
		if g.BatchHandler == nil {
			return errorutil.Configf("group %q: batch mode requires a batch handler", g.Name)
		}
	} else if g.Handler == nil {
		return errorutil.Configf("group %q: handler is required", g.Name)
	}
	if g.ExtendVisibility && g.VisibilityTimeout <= 0 {
		return errorutil.Configf("group %q: visibility extension requires the queue visibility timeout", g.Name)
	}
	return nil
}

// EffectiveDelay returns the pause applied to an empty queue.
func (g *ProcessingGroup) EffectiveDelay() time.Duration {
	if g.Delay > 0 {
		return g.Delay
	}
	return time.Second
}
