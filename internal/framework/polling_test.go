package framework

import (
	"testing"
	"time"
)

func wrrQueues() []*Queue {
	return []*Queue{
		{Name: "a", Weight: 8, Group: "g"},
		{Name: "b", Weight: 4, Group: "g"},
		{Name: "c", Weight: 1, Group: "g"},
	}
}

func TestWeightedRoundRobinSteadyCycle(t *testing.T) {
	s := NewWeightedRoundRobin(wrrQueues(), time.Second)

	// Warm up: non-empty fetches grow each queue to its target weight.
	for i := 0; i < 150; i++ {
		q := s.Next()
		if q == nil {
			t.Fatalf("no queue eligible during warm-up")
		}
		s.MessagesFound(q.Name, 1)
	}

	// Serving c ends a cycle; the next selection starts a fresh one.
	for {
		q := s.Next()
		s.MessagesFound(q.Name, 1)
		if q.Name == "c" {
			break
		}
	}

	// One full cycle: a 8 times, b 4 times, c once, in that order.
	var got []string
	for i := 0; i < 13; i++ {
		q := s.Next()
		s.MessagesFound(q.Name, 1)
		got = append(got, q.Name)
	}
	want := []string{
		"a", "a", "a", "a", "a", "a", "a", "a",
		"b", "b", "b", "b",
		"c",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle position %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestWeightedRoundRobinPauseAndReset(t *testing.T) {
	now := time.Now()
	s := NewWeightedRoundRobin(wrrQueues(), 2*time.Second)
	s.now = func() time.Time { return now }

	// Grow queue a to full weight.
	for i := 0; i < 30; i++ {
		q := s.Next()
		s.MessagesFound(q.Name, 1)
	}

	// Empty fetch pauses a and resets its weight.
	s.MessagesFound("a", 0)

	for i := 0; i < 10; i++ {
		if q := s.Next(); q.Name == "a" {
			t.Fatalf("paused queue selected")
		}
	}

	// After the pause the queue is back, starting from weight 1.
	now = now.Add(3 * time.Second)
	found := false
	for i := 0; i < 10; i++ {
		if s.Next().Name == "a" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("queue not selected after pause expired")
	}
}

func TestWeightedRoundRobinAllPaused(t *testing.T) {
	s := NewWeightedRoundRobin(wrrQueues(), time.Minute)
	s.MessagesFound("a", 0)
	s.MessagesFound("b", 0)
	s.MessagesFound("c", 0)
	if q := s.Next(); q != nil {
		t.Fatalf("expected nil with every queue paused, got %q", q.Name)
	}
	if n := len(s.ActiveQueues()); n != 0 {
		t.Fatalf("expected no active queues, got %d", n)
	}
}

func TestWeightedRoundRobinRemove(t *testing.T) {
	s := NewWeightedRoundRobin(wrrQueues(), time.Second)
	s.Remove("a")
	for i := 0; i < 20; i++ {
		if q := s.Next(); q != nil && q.Name == "a" {
			t.Fatalf("removed queue selected")
		}
	}
}

func TestStrictPriorityPrefersHigher(t *testing.T) {
	now := time.Now()
	queues := []*Queue{
		{Name: "high", Weight: 1, Group: "g"},
		{Name: "low", Weight: 1, Group: "g"},
	}
	s := NewStrictPriority(queues, 2*time.Second)
	s.now = func() time.Time { return now }

	// While high has messages, low is never selected.
	for i := 0; i < 10; i++ {
		q := s.Next()
		if q.Name != "high" {
			t.Fatalf("selected %q while high-priority queue available", q.Name)
		}
		s.MessagesFound(q.Name, 1)
	}

	// High reports empty: low becomes eligible for the pause window.
	s.MessagesFound("high", 0)
	if q := s.Next(); q.Name != "low" {
		t.Fatalf("expected low after high paused, got %q", q.Name)
	}

	// Pause expiry restores high's priority.
	now = now.Add(3 * time.Second)
	if q := s.Next(); q.Name != "high" {
		t.Fatalf("expected high after pause expired, got %q", q.Name)
	}
}

func TestStrictPriorityRemove(t *testing.T) {
	queues := []*Queue{
		{Name: "high", Weight: 1, Group: "g"},
		{Name: "low", Weight: 1, Group: "g"},
	}
	s := NewStrictPriority(queues, time.Second)
	s.Remove("high")
	if q := s.Next(); q == nil || q.Name != "low" {
		t.Fatalf("expected low after removing high, got %v", q)
	}
}
