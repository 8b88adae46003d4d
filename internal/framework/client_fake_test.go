package framework

import (
	"context"
	"sync"
	"time"
)

// fakeClient records every call; behavior is scripted per test.
type fakeClient struct {
	mu sync.Mutex

	receiveFunc func(queue string, max int) ([]*Message, error)

	receives     []receiveCall
	deletes      []deleteCall
	batchDeletes []batchDeleteCall
	visibilities []visibilityCall
	sends        []sendCall
}

type receiveCall struct {
	queue string
	max   int
	wait  time.Duration
}

type deleteCall struct {
	queue   string
	receipt string
}

type batchDeleteCall struct {
	queue    string
	receipts []string
}

type visibilityCall struct {
	queue      string
	receipt    string
	visibility time.Duration
}

type sendCall struct {
	queue string
	body  []byte
	opts  SendOptions
}

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (f *fakeClient) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]*Message, error) {
	f.mu.Lock()
	f.receives = append(f.receives, receiveCall{queue: queue, max: maxMessages, wait: wait})
	fn := f.receiveFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(queue, maxMessages)
}

func (f *fakeClient) Delete(ctx context.Context, queue string, receipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{queue: queue, receipt: receipt})
	return nil
}

func (f *fakeClient) DeleteBatch(ctx context.Context, queue string, receipts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchDeletes = append(f.batchDeletes, batchDeleteCall{queue: queue, receipts: receipts})
	return nil
}

func (f *fakeClient) ChangeVisibility(ctx context.Context, queue string, receipt string, visibility time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibilities = append(f.visibilities, visibilityCall{queue: queue, receipt: receipt, visibility: visibility})
	return nil
}

func (f *fakeClient) Send(ctx context.Context, queue string, body []byte, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{queue: queue, body: body, opts: opts})
	return "sent", nil
}

func (f *fakeClient) SendBatch(ctx context.Context, queue string, entries []SendEntry) error {
	return nil
}

func (f *fakeClient) deleteCalls() []deleteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deleteCall(nil), f.deletes...)
}

func (f *fakeClient) batchDeleteCalls() []batchDeleteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]batchDeleteCall(nil), f.batchDeletes...)
}

func (f *fakeClient) visibilityCalls() []visibilityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]visibilityCall(nil), f.visibilities...)
}

func (f *fakeClient) receiveCalls() []receiveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]receiveCall(nil), f.receives...)
}
