// Package adapter bridges a host application's job abstraction onto
// the framework: jobs travel as a small JSON envelope, a registry maps
// job types to handlers, and the stopping probe lets long-running jobs
// checkpoint before forced termination. The core never depends on the
// host framework; only this package knows the envelope.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wsqyouth/sqsflow/internal/framework"
)

// Envelope is the wire format for jobs enqueued through the bridge.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one job payload.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type. Double registration is an
// error.
func (r *Registry) Register(jobType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Get returns the handler for a job type, or nil.
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Decoder turns a raw message body into an envelope. Pluggable so
// hosts with their own serialization can join in.
type Decoder func(raw []byte) (*Envelope, error)

// JSONDecoder is the default envelope decoder.
func JSONDecoder(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode job envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("job envelope has no type")
	}
	return &env, nil
}

// Bridge wires enqueue and dispatch through one queue client.
type Bridge struct {
	client   framework.QueueClient
	registry *Registry
	decode   Decoder
	stopping func() bool
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithDecoder replaces the envelope decoder.
func WithDecoder(d Decoder) Option {
	return func(b *Bridge) { b.decode = d }
}

// WithStoppingProbe wires the launcher's stopping flag into the
// bridge so handlers can ask for it.
func WithStoppingProbe(probe func() bool) Option {
	return func(b *Bridge) { b.stopping = probe }
}

// NewBridge builds the bridge.
func NewBridge(client framework.QueueClient, registry *Registry, opts ...Option) *Bridge {
	b := &Bridge{
		client:   client,
		registry: registry,
		decode:   JSONDecoder,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue serializes the job into an envelope and sends it. The
// payload must marshal to JSON.
func (b *Bridge) Enqueue(ctx context.Context, queue, jobType string, payload interface{}, opts framework.SendOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	body, err := json.Marshal(&Envelope{Type: jobType, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("marshal job envelope: %w", err)
	}
	return b.client.Send(ctx, queue, body, opts)
}

// Stopping reports whether shutdown started. Long-running handlers
// poll this to checkpoint and self-reschedule.
func (b *Bridge) Stopping() bool {
	if b.stopping == nil {
		return false
	}
	return b.stopping()
}

// MessageHandler returns a framework handler that decodes the envelope
// and dispatches to the registry.
func (b *Bridge) MessageHandler() framework.Handler {
	return func(ctx context.Context, msg *framework.Message) error {
		env, err := b.decode(msg.Body)
		if err != nil {
			return err
		}
		h := b.registry.Get(env.Type)
		if h == nil {
			return fmt.Errorf("no handler for job type %q", env.Type)
		}
		return h.Handle(ctx, env.Payload)
	}
}

// BatchMessageHandler returns a batch handler that dispatches every
// message of the batch through the registry, stopping at the first
// failure so the batch's deletion stays suppressed as a whole.
func (b *Bridge) BatchMessageHandler() framework.BatchHandler {
	single := b.MessageHandler()
	return func(ctx context.Context, msgs []*framework.Message) error {
		for _, msg := range msgs {
			if err := single(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
}
