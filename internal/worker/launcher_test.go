package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wsqyouth/sqsflow/internal/framework"
	"github.com/wsqyouth/sqsflow/pkg/errorutil"
)

func newLauncherWith(t *testing.T, client framework.QueueClient, group *framework.ProcessingGroup, shutdownTimeout time.Duration) *Launcher {
	t.Helper()
	strategy := framework.NewWeightedRoundRobin(group.Queues, group.EffectiveDelay())
	m := NewManager(client, group, strategy, nil, nil)
	return NewLauncher([]*Manager{m}, shutdownTimeout, nil)
}

func TestLauncherSoftStopDrains(t *testing.T) {
	client := newFakeQueue(backlogOf(5)...)
	group := testGroup("default", 2, func(ctx context.Context, msg *framework.Message) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	l := newLauncherWith(t, client, group, 25*time.Second)

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if l.State() != StateRunning {
		t.Fatalf("state %s after start, want running", l.State())
	}

	deadline := time.After(5 * time.Second)
	for client.remaining() > 0 {
		select {
		case <-deadline:
			t.Fatalf("backlog not drained")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("soft stop: %v", err)
	}
	if l.State() != StateStopped {
		t.Fatalf("state %s after stop, want stopped", l.State())
	}
	if n := len(client.deleted()); n != 5 {
		t.Fatalf("deleted %d messages, want 5", n)
	}
}

func TestLauncherHardStopAbandons(t *testing.T) {
	client := newFakeQueue(backlogOf(1)...)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	group := testGroup("default", 1, func(ctx context.Context, msg *framework.Message) error {
		started <- struct{}{}
		<-block
		return nil
	})
	defer close(block)

	timeout := 100 * time.Millisecond
	l := newLauncherWith(t, client, group, timeout)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	begin := time.Now()
	err := l.StopNow()
	elapsed := time.Since(begin)

	if !errors.Is(err, errorutil.ErrShutdownTimeout) {
		t.Fatalf("hard stop returned %v, want ErrShutdownTimeout", err)
	}
	if elapsed < timeout || elapsed > timeout+time.Second {
		t.Fatalf("hard stop took %s, deadline was %s", elapsed, timeout)
	}
	if l.State() != StateStopped {
		t.Fatalf("state %s after hard stop, want stopped", l.State())
	}
	// The abandoned message is never deleted; it reappears once its
	// visibility lapses.
	if n := len(client.deleted()); n != 0 {
		t.Fatalf("deleted %d messages during abandonment", n)
	}
}

func TestLauncherHardStopCleanWithinDeadline(t *testing.T) {
	client := newFakeQueue(backlogOf(2)...)
	group := testGroup("default", 2, func(ctx context.Context, msg *framework.Message) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	l := newLauncherWith(t, client, group, 5*time.Second)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for client.remaining() > 0 {
		select {
		case <-deadline:
			t.Fatalf("backlog not drained")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := l.StopNow(); err != nil {
		t.Fatalf("hard stop: %v", err)
	}
}

func TestLauncherStateMonotonic(t *testing.T) {
	client := newFakeQueue()
	group := testGroup("default", 1, func(ctx context.Context, msg *framework.Message) error {
		return nil
	})
	l := newLauncherWith(t, client, group, time.Second)

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Start(context.Background()); err == nil {
		t.Fatalf("second start accepted")
	}

	l.Quiet()
	if l.State() != StateQuiet {
		t.Fatalf("state %s after quiet", l.State())
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if l.State() != StateStopped {
		t.Fatalf("state %s after stop", l.State())
	}

	// Terminal: quiet after stop does not regress the state.
	l.Quiet()
	if l.State() != StateStopped {
		t.Fatalf("state regressed to %s", l.State())
	}
}

func TestLauncherStoppingFlag(t *testing.T) {
	client := newFakeQueue()
	group := testGroup("default", 1, func(ctx context.Context, msg *framework.Message) error {
		return nil
	})
	l := newLauncherWith(t, client, group, time.Second)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if l.Stopping() {
		t.Fatalf("stopping true before any stop call")
	}
	if !l.Healthy() {
		t.Fatalf("running launcher reports unhealthy")
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !l.Stopping() {
		t.Fatalf("stopping false after stop")
	}
	if l.Healthy() {
		t.Fatalf("stopped launcher reports healthy")
	}
}

func TestLauncherReportsDisabledQueues(t *testing.T) {
	client := newFakeQueue()
	group := testGroup("default", 1, func(ctx context.Context, msg *framework.Message) error {
		return nil
	})
	strategy := framework.NewWeightedRoundRobin(group.Queues, group.EffectiveDelay())
	m := NewManager(client, group, strategy, nil, nil)
	l := NewLauncher([]*Manager{m}, time.Second, nil)

	cause := &errorutil.QueueNotFoundError{Queue: "orders", Err: fmt.Errorf("access denied")}
	m.queueFailed("orders", cause)

	select {
	case err := <-l.Errors():
		if !errorutil.IsFatalForQueue(err) {
			t.Fatalf("reported error %v is not a queue failure", err)
		}
	default:
		t.Fatalf("queue failure not reported")
	}

	// The dead queue left the rotation.
	if qs := m.ActiveQueues(); len(qs) != 0 {
		t.Fatalf("queue still in rotation after fatal error: %v", qs)
	}
}
