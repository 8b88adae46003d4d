package worker

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"github.com/wsqyouth/sqsflow/pkg/errorutil"
	"github.com/wsqyouth/sqsflow/pkg/logger"
)

// State is the launcher lifecycle state. Transitions are monotonic and
// never regress.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateQuiet
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateQuiet:
		return "quiet"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Launcher owns all managers: it sequences startup and shutdown,
// aggregates health, and exposes the hooks the process/signal layer
// calls. Mapping OS signals to these methods is the caller's job.
type Launcher struct {
	managers []*Manager
	log      logger.Logger

	state    *atomic.Int32
	stopFlag *atomic.Bool

	shutdownTimeout time.Duration
	errCh           chan error
}

// NewLauncher wires the managers to the launcher's error channel.
// shutdownTimeout bounds the hard-stop drain.
func NewLauncher(managers []*Manager, shutdownTimeout time.Duration, log logger.Logger) *Launcher {
	if log == nil {
		log = logger.NopLogger{}
	}
	l := &Launcher{
		managers:        managers,
		log:             log,
		state:           atomic.NewInt32(int32(StateStarting)),
		stopFlag:        atomic.NewBool(false),
		shutdownTimeout: shutdownTimeout,
		errCh:           make(chan error, 16),
	}
	for _, m := range managers {
		m.SetFatalSink(l.reportQueueError)
	}
	return l
}

// Start brings every manager up. ctx bounds worker execution for the
// whole process lifetime.
func (l *Launcher) Start(ctx context.Context) error {
	if State(l.state.Load()) != StateStarting {
		return errorutil.Configf("launcher started twice")
	}
	l.log.Infof(ctx, "[Launcher] starting %d groups", len(l.managers))
	for _, m := range l.managers {
		m.Start(ctx)
	}
	l.advanceTo(StateRunning)
	l.log.Infof(ctx, "[Launcher] running")
	return nil
}

// Quiet broadcasts quiet to every manager: new fetches stop, in-flight
// workers run to completion.
func (l *Launcher) Quiet() {
	if !l.advanceTo(StateQuiet) {
		return
	}
	l.log.Infof(context.Background(), "[Launcher] quieting all groups")
	for _, m := range l.managers {
		m.Quiet()
	}
}

// Stop is the soft stop: finish everything, however long it takes. It
// waits for natural drain unless ctx is canceled first.
func (l *Launcher) Stop(ctx context.Context) error {
	l.stopFlag.Store(true)
	l.Quiet()
	l.advanceTo(StateStopping)
	l.log.Infof(ctx, "[Launcher] soft stop, waiting for drain")

	for _, m := range l.managers {
		if err := m.Wait(ctx); err != nil {
			l.advanceTo(StateStopped)
			return err
		}
	}
	l.advanceTo(StateStopped)
	l.log.Infof(ctx, "[Launcher] stopped clean")
	return nil
}

// StopNow is the hard stop: wait up to the configured timeout, then
// abandon whatever is still running. Abandoned workers are never
// interrupted; their messages are not deleted and reappear once their
// visibility expires. Returns ErrShutdownTimeout when anything was
// abandoned.
func (l *Launcher) StopNow() error {
	l.stopFlag.Store(true)
	l.Quiet()
	l.advanceTo(StateStopping)

	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()
	l.log.Infof(ctx, "[Launcher] hard stop, deadline %s", l.shutdownTimeout)

	abandoned := false
	for _, m := range l.managers {
		if err := m.Wait(ctx); err != nil {
			busy, _ := m.Stats()
			l.log.Warnf(ctx, "[Launcher] abandoning group %s with %d workers in flight", m.Group(), busy)
			m.Abandon()
			abandoned = true
		}
	}
	l.advanceTo(StateStopped)

	if abandoned {
		return errorutil.ErrShutdownTimeout
	}
	l.log.Infof(ctx, "[Launcher] stopped clean within deadline")
	return nil
}

// Healthy reports true iff every group's manager is running.
func (l *Launcher) Healthy() bool {
	for _, m := range l.managers {
		if !m.Running() {
			return false
		}
	}
	return true
}

// Stopping reports whether either stop path was invoked. Handlers can
// poll this to checkpoint and self-reschedule long-running work before
// forced termination.
func (l *Launcher) Stopping() bool {
	return l.stopFlag.Load()
}

// State returns the current lifecycle state.
func (l *Launcher) State() State {
	return State(l.state.Load())
}

// Errors exposes fatal per-queue failures surfaced by the fetchers.
func (l *Launcher) Errors() <-chan error {
	return l.errCh
}

// DumpDebugInfo logs per-group busy/ready counts and the queues still
// in rotation. Wired to the debug signal.
func (l *Launcher) DumpDebugInfo(ctx context.Context) {
	l.log.Infof(ctx, "[Launcher] state=%s healthy=%v", l.State(), l.Healthy())
	for _, m := range l.managers {
		busy, ready := m.Stats()
		l.log.Infof(ctx, "[Launcher] group=%s busy=%d ready=%d", m.Group(), busy, ready)
		for _, q := range m.ActiveQueues() {
			l.log.Infof(ctx, "[Launcher] group=%s queue=%s weight=%d", m.Group(), q.Name, q.Weight)
		}
	}
}

// advanceTo moves the state forward; backward transitions are ignored.
func (l *Launcher) advanceTo(target State) bool {
	for {
		cur := l.state.Load()
		if cur >= int32(target) {
			return false
		}
		if l.state.CAS(cur, int32(target)) {
			return true
		}
	}
}

func (l *Launcher) reportQueueError(group, queue string, err error) {
	if !errorutil.IsFatalForQueue(err) {
		err = &errorutil.QueueNotFoundError{Queue: queue, Err: err}
	}
	select {
	case l.errCh <- err:
	default:
		// Channel full: the error is already logged at the fetcher.
	}
}
