package framework

import (
	"context"
	"time"

	"github.com/wsqyouth/sqsflow/pkg/errorutil"
	"github.com/wsqyouth/sqsflow/pkg/logger"
)

// visibilityExtendMargin is how close to expiry the extender lets a
// message get before re-extending it.
const visibilityExtendMargin = 5 * time.Second

// Processor runs fetched messages through the middleware chain and the
// group handler, then applies the post-processing policy: delete on
// success, retry via visibility change on failure, or leave the message
// to expire. One failure never reaches the dispatch loop.
type Processor struct {
	client QueueClient
	group  *ProcessingGroup
	chain  *Chain
	log    logger.Logger
}

// NewProcessor creates a processor for one group. chain is the global
// middleware chain; every invocation works on a clone of it.
func NewProcessor(client QueueClient, group *ProcessingGroup, chain *Chain, log logger.Logger) *Processor {
	if chain == nil {
		chain = NewChain()
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Processor{
		client: client,
		group:  group,
		chain:  chain,
		log:    log,
	}
}

// Process handles one dispatch unit: a single message, or the whole
// fetch in batch mode. It never returns an error; failures are resolved
// into the retry policy and logged.
func (p *Processor) Process(ctx context.Context, msgs []*Message) {
	if len(msgs) == 0 {
		return
	}
	if p.group.Batch {
		p.processBatch(ctx, msgs)
		return
	}
	for _, m := range msgs {
		p.processOne(ctx, m)
	}
}

func (p *Processor) processOne(ctx context.Context, msg *Message) {
	ctx = logger.WithQueue(logger.WithMessageID(ctx, msg.ID), msg.Queue)
	start := time.Now()

	stopExtender := func() {}
	if p.group.ExtendVisibility {
		stopExtender = p.startVisibilityExtender(ctx, msg)
	}
	defer stopExtender()

	job := &Job{Group: p.group.Name, Queue: msg.Queue, Messages: []*Message{msg}}

	handlerRan, err := p.invoke(ctx, job, func(ctx context.Context) error {
		if parseErr := p.parse(msg); parseErr != nil {
			return parseErr
		}
		return p.group.Handler(ctx, msg)
	})

	stopExtender()

	switch {
	case err != nil:
		p.log.Warnf(ctx, "[Processor] message failed after %s: %v", time.Since(start), err)
		p.applyRetry(ctx, msg, err)
	case !handlerRan:
		// A middleware declined to continue: no handler, no delete.
		// The message reappears per its visibility timeout unless that
		// middleware deleted it itself.
		p.log.Debugf(ctx, "[Processor] message short-circuited by middleware")
	default:
		p.log.Debugf(ctx, "[Processor] message done in %s", time.Since(start))
		if p.group.AutoDelete {
			p.deleteOne(ctx, msg)
		}
	}
}

// processBatch hands the whole fetch to one handler call. Deletion is
// all-or-nothing: any error suppresses deletion for the entire batch.
func (p *Processor) processBatch(ctx context.Context, msgs []*Message) {
	ctx = logger.WithQueue(ctx, msgs[0].Queue)
	start := time.Now()

	job := &Job{Group: p.group.Name, Queue: msgs[0].Queue, Messages: msgs}

	handlerRan, err := p.invoke(ctx, job, func(ctx context.Context) error {
		for _, m := range msgs {
			if parseErr := p.parse(m); parseErr != nil {
				return parseErr
			}
		}
		return p.group.BatchHandler(ctx, msgs)
	})

	switch {
	case err != nil:
		p.log.Warnf(ctx, "[Processor] batch of %d failed after %s: %v", len(msgs), time.Since(start), err)
	case !handlerRan:
		p.log.Debugf(ctx, "[Processor] batch short-circuited by middleware")
	default:
		p.log.Debugf(ctx, "[Processor] batch of %d done in %s", len(msgs), time.Since(start))
		if p.group.AutoDelete {
			p.deleteBatch(ctx, msgs)
		}
	}
}

// invoke runs the job through a clone of the global chain and wraps any
// failure as a HandlerError.
func (p *Processor) invoke(ctx context.Context, job *Job, final Next) (bool, error) {
	ran, err := p.chain.Clone().Invoke(ctx, job, final)
	if err != nil {
		err = &errorutil.HandlerError{
			Queue:     job.Queue,
			MessageID: job.Message().ID,
			Err:       err,
		}
	}
	return ran, err
}

func (p *Processor) parse(msg *Message) error {
	parser := p.group.Parser
	if parser == nil {
		parser = RawParser
	}
	parsed, err := parser(msg.Body)
	if err != nil {
		return err
	}
	msg.Parsed = parsed
	return nil
}

// applyRetry reschedules redelivery after a handler failure. With retry
// intervals configured the visibility is set explicitly, capped at the
// backend's 12 hour limit; without them the message simply becomes
// visible again when its unmodified visibility timeout lapses.
func (p *Processor) applyRetry(ctx context.Context, msg *Message, cause error) {
	if p.group.RetryIntervals == nil {
		return
	}
	interval := p.group.RetryIntervals(msg.ReceiveCount)
	if interval < 0 {
		return
	}
	interval = ClampVisibility(interval)
	if err := p.client.ChangeVisibility(ctx, msg.Queue, msg.ReceiptHandle, interval); err != nil {
		p.log.Warnf(ctx, "[Processor] retry reschedule failed: %v", err)
		return
	}
	p.log.Infof(ctx, "[Processor] attempt %d failed, redelivery in %s", msg.ReceiveCount, interval)
}

func (p *Processor) deleteOne(ctx context.Context, msg *Message) {
	if err := p.client.Delete(ctx, msg.Queue, msg.ReceiptHandle); err != nil {
		p.log.Warnf(ctx, "[Processor] delete failed: %v", err)
	}
}

func (p *Processor) deleteBatch(ctx context.Context, msgs []*Message) {
	receipts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		receipts = append(receipts, m.ReceiptHandle)
	}
	for len(receipts) > 0 {
		n := len(receipts)
		if n > MaxBatchEntries {
			n = MaxBatchEntries
		}
		if err := p.client.DeleteBatch(ctx, msgs[0].Queue, receipts[:n]); err != nil {
			p.log.Warnf(ctx, "[Processor] batch delete failed: %v", err)
		}
		receipts = receipts[n:]
	}
}

// startVisibilityExtender keeps re-extending the message's visibility
// to its original duration whenever visibilityExtendMargin remains
// before expiry. The returned stop func cancels it; calling stop more
// than once is fine.
func (p *Processor) startVisibilityExtender(ctx context.Context, msg *Message) func() {
	interval := p.group.VisibilityTimeout - visibilityExtendMargin
	if interval <= 0 {
		interval = p.group.VisibilityTimeout / 2
	}

	extCtx, cancel := context.WithCancel(ctx)
	go func() {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-extCtx.Done():
				return
			case <-timer.C:
				if err := p.client.ChangeVisibility(extCtx, msg.Queue, msg.ReceiptHandle, p.group.VisibilityTimeout); err != nil {
					p.log.Warnf(extCtx, "[Processor] visibility extension failed: %v", err)
					return
				}
				p.log.Debugf(extCtx, "[Processor] visibility extended by %s", p.group.VisibilityTimeout)
				timer.Reset(interval)
			}
		}
	}()
	return cancel
}
