package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wsqyouth/sqsflow/internal/framework"
)

type captureClient struct {
	mu    sync.Mutex
	sends [][]byte
}

func (c *captureClient) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]*framework.Message, error) {
	return nil, nil
}

func (c *captureClient) Delete(ctx context.Context, queue string, receipt string) error {
	return nil
}

func (c *captureClient) DeleteBatch(ctx context.Context, queue string, receipts []string) error {
	return nil
}

func (c *captureClient) ChangeVisibility(ctx context.Context, queue string, receipt string, visibility time.Duration) error {
	return nil
}

func (c *captureClient) Send(ctx context.Context, queue string, body []byte, opts framework.SendOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, body)
	return "msg-1", nil
}

func (c *captureClient) SendBatch(ctx context.Context, queue string, entries []framework.SendEntry) error {
	return nil
}

func TestRegistryRejectsDoubleRegistration(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, payload []byte) error { return nil })
	if err := r.Register("echo", h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("echo", h); err == nil {
		t.Fatalf("double registration accepted")
	}
	if r.Get("echo") == nil {
		t.Fatalf("registered handler not found")
	}
	if r.Get("missing") != nil {
		t.Fatalf("unregistered type returned a handler")
	}
}

func TestBridgeEnqueueWrapsEnvelope(t *testing.T) {
	client := &captureClient{}
	b := NewBridge(client, NewRegistry())

	id, err := b.Enqueue(context.Background(), "orders", "echo", map[string]string{"msg": "hi"}, framework.SendOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("message id %q", id)
	}

	var env Envelope
	if err := json.Unmarshal(client.sends[0], &env); err != nil {
		t.Fatalf("sent body is not an envelope: %v", err)
	}
	if env.Type != "echo" {
		t.Fatalf("envelope type %q", env.Type)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["msg"] != "hi" {
		t.Fatalf("payload %v", payload)
	}
}

func TestBridgeDispatch(t *testing.T) {
	r := NewRegistry()
	var got []byte
	r.Register("echo", HandlerFunc(func(ctx context.Context, payload []byte) error {
		got = payload
		return nil
	}))
	b := NewBridge(&captureClient{}, r)

	handler := b.MessageHandler()
	body, _ := json.Marshal(&Envelope{Type: "echo", Payload: json.RawMessage(`{"msg":"hi"}`)})
	if err := handler(context.Background(), &framework.Message{ID: "m1", Body: body}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(got) != `{"msg":"hi"}` {
		t.Fatalf("handler payload %s", got)
	}
}

func TestBridgeDispatchUnknownType(t *testing.T) {
	b := NewBridge(&captureClient{}, NewRegistry())
	handler := b.MessageHandler()
	body, _ := json.Marshal(&Envelope{Type: "nope", Payload: json.RawMessage(`{}`)})
	if err := handler(context.Background(), &framework.Message{ID: "m1", Body: body}); err == nil {
		t.Fatalf("unknown job type dispatched without error")
	}
}

func TestBridgeDispatchBadEnvelope(t *testing.T) {
	b := NewBridge(&captureClient{}, NewRegistry())
	handler := b.MessageHandler()
	if err := handler(context.Background(), &framework.Message{ID: "m1", Body: []byte("not json")}); err == nil {
		t.Fatalf("malformed envelope dispatched without error")
	}
	body, _ := json.Marshal(&Envelope{Payload: json.RawMessage(`{}`)})
	if err := handler(context.Background(), &framework.Message{ID: "m2", Body: body}); err == nil {
		t.Fatalf("typeless envelope dispatched without error")
	}
}

func TestBridgeBatchStopsAtFirstFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	var handled []string
	r.Register("ok", HandlerFunc(func(ctx context.Context, payload []byte) error {
		handled = append(handled, "ok")
		return nil
	}))
	r.Register("fail", HandlerFunc(func(ctx context.Context, payload []byte) error {
		handled = append(handled, "fail")
		return boom
	}))
	b := NewBridge(&captureClient{}, r)

	mk := func(jobType string) *framework.Message {
		body, _ := json.Marshal(&Envelope{Type: jobType, Payload: json.RawMessage(`{}`)})
		return &framework.Message{Body: body}
	}

	err := b.BatchMessageHandler()(context.Background(), []*framework.Message{
		mk("ok"), mk("fail"), mk("ok"),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("batch error %v, want %v", err, boom)
	}
	if len(handled) != 2 {
		t.Fatalf("handled %v, want stop after failure", handled)
	}
}

func TestBridgeStoppingProbe(t *testing.T) {
	stopping := false
	b := NewBridge(&captureClient{}, NewRegistry(), WithStoppingProbe(func() bool {
		return stopping
	}))
	if b.Stopping() {
		t.Fatalf("stopping true before shutdown")
	}
	stopping = true
	if !b.Stopping() {
		t.Fatalf("stopping false after shutdown started")
	}

	// Without a probe the bridge never reports stopping.
	if NewBridge(&captureClient{}, NewRegistry()).Stopping() {
		t.Fatalf("probe-less bridge reports stopping")
	}
}

func TestBridgeCustomDecoder(t *testing.T) {
	r := NewRegistry()
	var got []byte
	r.Register("echo", HandlerFunc(func(ctx context.Context, payload []byte) error {
		got = payload
		return nil
	}))
	b := NewBridge(&captureClient{}, r, WithDecoder(func(raw []byte) (*Envelope, error) {
		// Everything is an echo job in this host.
		return &Envelope{Type: "echo", Payload: raw}, nil
	}))

	if err := b.MessageHandler()(context.Background(), &framework.Message{Body: []byte("plain text")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(got) != "plain text" {
		t.Fatalf("payload %s", got)
	}
}
