package framework

import (
	"github.com/wsqyouth/sqsflow/pkg/errorutil"
)

// Queue is one registered queue. Immutable after registration.
type Queue struct {
	Name   string
	URL    string // optional explicit endpoint; empty means resolve by name
	Weight int    // fetch weight under weighted round robin
	Group  string // owning processing group
}

// Registry holds every registered queue. It is built once at startup
// and passed by reference into manager construction; nothing looks it
// up ambiently on the hot path.
type Registry struct {
	queues map[string]*Queue
	order  []string
}

// NewRegistry creates an empty queue registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// Register adds a queue. Duplicate names and non-positive weights are
// configuration errors.
func (r *Registry) Register(q *Queue) error {
	if q.Name == "" {
		return errorutil.Configf("queue name is required")
	}
	if q.Weight <= 0 {
		return errorutil.Configf("queue %q weight must be positive, got %d", q.Name, q.Weight)
	}
	if _, exists := r.queues[q.Name]; exists {
		return errorutil.Configf("queue %q registered twice", q.Name)
	}
	r.queues[q.Name] = q
	r.order = append(r.order, q.Name)
	return nil
}

// Lookup returns the queue by name, or nil.
func (r *Registry) Lookup(name string) *Queue {
	return r.queues[name]
}

// All returns every queue in registration order.
func (r *Registry) All() []*Queue {
	out := make([]*Queue, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.queues[name])
	}
	return out
}

// ForGroup returns the group's queues in registration order.
func (r *Registry) ForGroup(group string) []*Queue {
	var out []*Queue
	for _, name := range r.order {
		if q := r.queues[name]; q.Group == group {
			out = append(out, q)
		}
	}
	return out
}
