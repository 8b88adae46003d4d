package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wsqyouth/sqsflow/internal/framework"
)

// fakeQueue serves a fixed backlog of messages and records deletes.
type fakeQueue struct {
	mu      sync.Mutex
	backlog []*framework.Message
	deletes []string
}

func newFakeQueue(msgs ...*framework.Message) *fakeQueue {
	return &fakeQueue{backlog: msgs}
}

func (f *fakeQueue) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]*framework.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) == 0 {
		return nil, nil
	}
	n := maxMessages
	if n > len(f.backlog) {
		n = len(f.backlog)
	}
	out := f.backlog[:n]
	f.backlog = f.backlog[n:]
	return out, nil
}

func (f *fakeQueue) Delete(ctx context.Context, queue string, receipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, receipt)
	return nil
}

func (f *fakeQueue) DeleteBatch(ctx context.Context, queue string, receipts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, receipts...)
	return nil
}

func (f *fakeQueue) ChangeVisibility(ctx context.Context, queue string, receipt string, visibility time.Duration) error {
	return nil
}

func (f *fakeQueue) Send(ctx context.Context, queue string, body []byte, opts framework.SendOptions) (string, error) {
	return "", nil
}

func (f *fakeQueue) SendBatch(ctx context.Context, queue string, entries []framework.SendEntry) error {
	return nil
}

func (f *fakeQueue) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeQueue) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.backlog)
}

func backlogOf(n int) []*framework.Message {
	msgs := make([]*framework.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, &framework.Message{
			ID:            fmt.Sprintf("m%d", i),
			Body:          []byte("{}"),
			ReceiptHandle: fmt.Sprintf("r%d", i),
			ReceiveCount:  1,
		})
	}
	return msgs
}
