package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/wsqyouth/sqsflow/internal/framework"
	"github.com/wsqyouth/sqsflow/pkg/logger"
)

// Manager states. Transitions only move forward.
const (
	managerIdle int32 = iota
	managerRunning
	managerQuiet
	managerStopped
)

// slotBackoff is how long the dispatch loop sleeps when every worker
// slot is busy.
const slotBackoff = 100 * time.Millisecond

// Manager owns one processing group: it runs the dispatch loop that
// binds the polling strategy, the fetcher and the processor together
// under a bounded worker pool. The busy counter is the only state
// shared between the loop and the workers; all mutation is atomic, so
// worker latency can never block the loop on a lock.
type Manager struct {
	group     *framework.ProcessingGroup
	strategy  framework.PollingStrategy
	fetcher   *framework.Fetcher
	processor *framework.Processor
	log       logger.Logger

	state     *atomic.Int32
	busy      *atomic.Int64
	workerSeq *atomic.Int64

	workers  sync.WaitGroup
	loopDone chan struct{}
	stopLoop context.CancelFunc

	// fatalSink hears about queues disabled by auth/not-found errors.
	// Set by the launcher before Start.
	fatalSink func(group, queue string, err error)

	// onUtilization fires whenever the busy/ready ratio changes.
	onUtilization func(group string, busy, limit int64)
}

// NewManager assembles a manager for one validated group.
func NewManager(client framework.QueueClient, group *framework.ProcessingGroup, strategy framework.PollingStrategy, chain *framework.Chain, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NopLogger{}
	}
	m := &Manager{
		group:     group,
		strategy:  strategy,
		processor: framework.NewProcessor(client, group, chain, log),
		log:       log,
		state:     atomic.NewInt32(managerIdle),
		busy:      atomic.NewInt64(0),
		workerSeq: atomic.NewInt64(0),
		loopDone:  make(chan struct{}),
	}
	m.fetcher = framework.NewFetcher(client, group, log, m.queueFailed)
	return m
}

// SetFatalSink registers the launcher's error reporter. Must be called
// before Start.
func (m *Manager) SetFatalSink(sink func(group, queue string, err error)) {
	m.fatalSink = sink
}

// SetUtilizationCallback registers the utilization-changed hook. Must
// be called before Start.
func (m *Manager) SetUtilizationCallback(cb func(group string, busy, limit int64)) {
	m.onUtilization = cb
}

// Group returns the group name.
func (m *Manager) Group() string {
	return m.group.Name
}

// Start launches the dispatch loop. ctx is the lifetime of worker
// execution; fetching stops earlier, on Quiet.
func (m *Manager) Start(ctx context.Context) {
	if !m.state.CAS(managerIdle, managerRunning) {
		return
	}
	ctx = logger.WithGroup(ctx, m.group.Name)
	loopCtx, cancel := context.WithCancel(ctx)
	m.stopLoop = cancel
	go m.run(loopCtx, ctx)
}

// Quiet stops the loop from issuing new fetches. Already-dispatched
// workers run to completion.
func (m *Manager) Quiet() {
	if m.state.CAS(managerRunning, managerQuiet) {
		m.log.Infof(context.Background(), "[Manager] %s entering quiet", m.group.Name)
		m.stopLoop()
	}
}

// Running reports whether the group still has work: true while the
// loop runs, and during quiet until every in-flight worker finished.
func (m *Manager) Running() bool {
	switch m.state.Load() {
	case managerRunning:
		return true
	case managerQuiet:
		return m.busy.Load() > 0
	default:
		return false
	}
}

// Wait blocks until the loop exited and all in-flight workers
// finished, or ctx is done. On full drain the manager is stopped.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		m.state.Store(managerStopped)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon marks the manager stopped without waiting for workers. Used
// by the hard-stop path once the deadline elapsed; abandoned workers
// are never interrupted, their messages reappear via visibility expiry.
func (m *Manager) Abandon() {
	m.state.Store(managerStopped)
}

// Stats returns the busy and ready worker counts.
func (m *Manager) Stats() (busy, ready int64) {
	b := m.busy.Load()
	return b, int64(m.group.Concurrency) - b
}

// ActiveQueues returns the queues currently in rotation.
func (m *Manager) ActiveQueues() []*framework.Queue {
	return m.strategy.ActiveQueues()
}

// run is the dispatch loop. It blocks only on fetch I/O and on slot or
// empty-queue backoff; handler latency never reaches it.
func (m *Manager) run(loopCtx, workCtx context.Context) {
	defer close(m.loopDone)

	m.log.Infof(loopCtx, "[Manager] %s dispatch loop started, concurrency=%d queues=%d",
		m.group.Name, m.group.Concurrency, len(m.group.Queues))

	for {
		if m.state.Load() != managerRunning {
			m.log.Infof(loopCtx, "[Manager] %s dispatch loop exiting", m.group.Name)
			return
		}

		free := int64(m.group.Concurrency) - m.busy.Load()
		if free <= 0 {
			if !m.sleep(loopCtx, slotBackoff) {
				return
			}
			continue
		}

		q := m.strategy.Next()
		if q == nil {
			if !m.sleep(loopCtx, m.group.EffectiveDelay()) {
				return
			}
			continue
		}

		msgs := m.fetcher.Fetch(loopCtx, q, int(free))
		m.strategy.MessagesFound(q.Name, len(msgs))
		if len(msgs) == 0 {
			continue
		}

		m.dispatch(workCtx, msgs)
	}
}

// dispatch hands messages to workers. In batch mode the whole fetch is
// one dispatch unit occupying one slot; otherwise each message gets its
// own slot.
func (m *Manager) dispatch(ctx context.Context, msgs []*framework.Message) {
	if m.group.Batch {
		m.submit(ctx, msgs)
		return
	}
	for _, msg := range msgs {
		m.submit(ctx, []*framework.Message{msg})
	}
}

func (m *Manager) submit(ctx context.Context, msgs []*framework.Message) {
	for !m.acquireSlot() {
		time.Sleep(slotBackoff)
	}
	id := int(m.workerSeq.Inc())
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer m.releaseSlot()
		defer func() {
			for _, msg := range msgs {
				m.fetcher.Release(msg)
			}
		}()
		m.processor.Process(logger.WithWorkerID(ctx, id), msgs)
	}()
}

// acquireSlot claims one unit of bounded concurrency. Lock-free: the
// busy count never exceeds the group limit.
func (m *Manager) acquireSlot() bool {
	limit := int64(m.group.Concurrency)
	for {
		cur := m.busy.Load()
		if cur >= limit {
			return false
		}
		if m.busy.CAS(cur, cur+1) {
			m.emitUtilization()
			return true
		}
	}
}

func (m *Manager) releaseSlot() {
	m.busy.Dec()
	m.emitUtilization()
}

func (m *Manager) emitUtilization() {
	if m.onUtilization != nil {
		m.onUtilization(m.group.Name, m.busy.Load(), int64(m.group.Concurrency))
	}
}

// queueFailed removes a dead queue from rotation and reports it.
func (m *Manager) queueFailed(queue string, err error) {
	m.strategy.Remove(queue)
	if m.fatalSink != nil {
		m.fatalSink(m.group.Name, queue, err)
	}
}

// sleep waits for d unless the loop context ends first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
