package framework

import (
	"context"
	"time"
)

// QueueClient abstracts the remote queue backend. Queues are addressed
// by name; implementations resolve names to whatever identity the
// backend uses. All implementations enforce the limits in limits.go
// before issuing a call.
type QueueClient interface {
	// Receive pulls up to maxMessages from the queue, long-polling for
	// wait when the queue is empty. An empty slice means the queue had
	// nothing to give.
	Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]*Message, error)

	// Delete removes one message by receipt handle.
	Delete(ctx context.Context, queue string, receipt string) error

	// DeleteBatch removes up to MaxBatchEntries messages in one call.
	DeleteBatch(ctx context.Context, queue string, receipts []string) error

	// ChangeVisibility re-times when the message becomes visible again.
	ChangeVisibility(ctx context.Context, queue string, receipt string, visibility time.Duration) error

	// Send publishes one message and returns its backend ID.
	Send(ctx context.Context, queue string, body []byte, opts SendOptions) (string, error)

	// SendBatch publishes up to MaxBatchEntries messages in one call.
	SendBatch(ctx context.Context, queue string, entries []SendEntry) error
}

// Handler processes one message. A non-nil error triggers the group's
// retry policy and suppresses auto-delete.
type Handler func(ctx context.Context, msg *Message) error

// BatchHandler processes a whole fetch as a single unit. Deletion is
// all-or-nothing: one error suppresses deletion for the entire batch.
type BatchHandler func(ctx context.Context, msgs []*Message) error

// BodyParser turns a raw body into the value handlers see in
// Message.Parsed. Parse failures are treated as handler errors.
type BodyParser func(raw []byte) (interface{}, error)
