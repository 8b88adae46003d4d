package framework

import (
	"context"
	"fmt"
)

// Job is what flows through the middleware chain: one message, or the
// whole fetch in batch mode.
type Job struct {
	Group    string
	Queue    string
	Messages []*Message
}

// Message returns the single message of a non-batch job.
func (j *Job) Message() *Message {
	if len(j.Messages) == 0 {
		return nil
	}
	return j.Messages[0]
}

// Next advances the middleware chain. A middleware that never calls it
// short-circuits: the handler does not run and auto-delete is skipped.
type Next func(ctx context.Context) error

// Middleware wraps handler invocation. It may run code before and after
// next, catch or re-raise the error, or decline to call next at all.
type Middleware func(ctx context.Context, job *Job, next Next) error

type chainEntry struct {
	name string
	mw   Middleware
}

// Chain is an ordered middleware list. The zero value is usable. A
// per-worker chain is a Clone of the global one; mutating a clone never
// affects the original.
type Chain struct {
	entries []chainEntry
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends a named middleware.
func (c *Chain) Add(name string, mw Middleware) {
	c.entries = append(c.entries, chainEntry{name: name, mw: mw})
}

// InsertBefore places the middleware immediately before ref.
func (c *Chain) InsertBefore(ref, name string, mw Middleware) error {
	idx := c.indexOf(ref)
	if idx < 0 {
		return fmt.Errorf("middleware %q not in chain", ref)
	}
	c.entries = append(c.entries[:idx], append([]chainEntry{{name: name, mw: mw}}, c.entries[idx:]...)...)
	return nil
}

// InsertAfter places the middleware immediately after ref.
func (c *Chain) InsertAfter(ref, name string, mw Middleware) error {
	idx := c.indexOf(ref)
	if idx < 0 {
		return fmt.Errorf("middleware %q not in chain", ref)
	}
	idx++
	c.entries = append(c.entries[:idx], append([]chainEntry{{name: name, mw: mw}}, c.entries[idx:]...)...)
	return nil
}

// Remove drops the named middleware.
func (c *Chain) Remove(name string) error {
	idx := c.indexOf(name)
	if idx < 0 {
		return fmt.Errorf("middleware %q not in chain", name)
	}
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	return nil
}

// Clear empties the chain.
func (c *Chain) Clear() {
	c.entries = nil
}

// Names returns the middleware names in invocation order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.name
	}
	return out
}

// Clone returns an independent copy of the chain.
func (c *Chain) Clone() *Chain {
	cp := &Chain{entries: make([]chainEntry, len(c.entries))}
	copy(cp.entries, c.entries)
	return cp
}

func (c *Chain) indexOf(name string) int {
	for i, e := range c.entries {
		if e.name == name {
			return i
		}
	}
	return -1
}

// Invoke runs the job through the chain, ending at final. The returned
// bool reports whether final actually ran; a middleware that declines
// to call next leaves it false.
func (c *Chain) Invoke(ctx context.Context, job *Job, final Next) (bool, error) {
	ran := false
	next := func(ctx context.Context) error {
		ran = true
		return final(ctx)
	}
	// Build the nested continuations innermost-first.
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		inner := next
		next = func(ctx context.Context) error {
			return entry.mw(ctx, job, inner)
		}
	}
	err := next(ctx)
	return ran, err
}
