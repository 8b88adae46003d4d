package framework

import (
	"sync"
	"time"
)

// PollingStrategy picks the next queue to fetch from. Each strategy
// instance belongs to one group and keeps its own pause bookkeeping; a
// queue paused here is unaffected in any other group's strategy.
type PollingStrategy interface {
	// Next returns the queue to fetch from, or nil when every queue is
	// paused or removed.
	Next() *Queue

	// MessagesFound reports the outcome of the fetch that Next led to.
	// A zero count pauses the queue for the configured delay.
	MessagesFound(queue string, count int)

	// ActiveQueues returns the queues currently eligible for fetching,
	// in registration order.
	ActiveQueues() []*Queue

	// Remove permanently drops a queue from rotation. Used when the
	// backend reports the queue missing or forbidden.
	Remove(queue string)
}

type pollEntry struct {
	queue       *Queue
	current     int // current weight, weighted round robin only
	pausedUntil time.Time
	removed     bool
}

func (e *pollEntry) paused(now time.Time) bool {
	return now.Before(e.pausedUntil)
}

// WeightedRoundRobin approximates proportional fairness without
// starvation: each queue starts at current weight 1, earns one more
// fetch turn per non-empty fetch up to its target weight, and drops
// back to 1 whenever a fetch comes up empty. Selection visits each
// queue its current weight's worth of times, in registration order,
// before advancing.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	entries []*pollEntry
	delay   time.Duration
	idx     int // entry being served
	served  int // turns served to the current entry this cycle
	now     func() time.Time
}

// NewWeightedRoundRobin builds the default strategy for the given
// queues. delay is how long an empty queue stays paused.
func NewWeightedRoundRobin(queues []*Queue, delay time.Duration) *WeightedRoundRobin {
	s := &WeightedRoundRobin{delay: delay, now: time.Now}
	for _, q := range queues {
		s.entries = append(s.entries, &pollEntry{queue: q, current: 1})
	}
	return s
}

func (s *WeightedRoundRobin) Next() *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil
	}
	now := s.now()
	for scanned := 0; scanned < len(s.entries); {
		e := s.entries[s.idx]
		if e.removed || e.paused(now) || s.served >= e.current {
			s.advanceLocked()
			scanned++
			continue
		}
		s.served++
		if s.served >= e.current {
			s.advanceLocked()
		}
		return e.queue
	}
	return nil
}

func (s *WeightedRoundRobin) advanceLocked() {
	s.idx = (s.idx + 1) % len(s.entries)
	s.served = 0
}

func (s *WeightedRoundRobin) MessagesFound(queue string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.findLocked(queue)
	if e == nil {
		return
	}
	if count == 0 {
		e.pausedUntil = s.now().Add(s.delay)
		e.current = 1
		return
	}
	if e.current < e.queue.Weight {
		e.current++
	}
}

func (s *WeightedRoundRobin) ActiveQueues() []*Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*Queue
	for _, e := range s.entries {
		if !e.removed && !e.paused(now) {
			out = append(out, e.queue)
		}
	}
	return out
}

func (s *WeightedRoundRobin) Remove(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.findLocked(queue); e != nil {
		e.removed = true
	}
}

func (s *WeightedRoundRobin) findLocked(queue string) *pollEntry {
	for _, e := range s.entries {
		if e.queue.Name == queue {
			return e
		}
	}
	return nil
}

// StrictPriority exhausts higher-priority queues before considering
// lower ones. Registration order is priority order; a lower queue only
// becomes eligible while every higher queue sits in its empty pause.
type StrictPriority struct {
	mu      sync.Mutex
	entries []*pollEntry
	delay   time.Duration
	now     func() time.Time
}

// NewStrictPriority builds the strategy; queues are in priority order,
// highest first.
func NewStrictPriority(queues []*Queue, delay time.Duration) *StrictPriority {
	s := &StrictPriority{delay: delay, now: time.Now}
	for _, q := range queues {
		s.entries = append(s.entries, &pollEntry{queue: q})
	}
	return s
}

func (s *StrictPriority) Next() *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, e := range s.entries {
		if !e.removed && !e.paused(now) {
			return e.queue
		}
	}
	return nil
}

func (s *StrictPriority) MessagesFound(queue string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count > 0 {
		return
	}
	for _, e := range s.entries {
		if e.queue.Name == queue {
			e.pausedUntil = s.now().Add(s.delay)
			return
		}
	}
}

func (s *StrictPriority) ActiveQueues() []*Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*Queue
	for _, e := range s.entries {
		if !e.removed && !e.paused(now) {
			out = append(out, e.queue)
		}
	}
	return out
}

func (s *StrictPriority) Remove(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.queue.Name == queue {
			e.removed = true
			return
		}
	}
}
