package framework

import (
	"context"
	"sync"
	"time"

	"github.com/wsqyouth/sqsflow/pkg/errorutil"
	"github.com/wsqyouth/sqsflow/pkg/logger"
)

// Fetcher pulls messages for the queue the polling strategy selected,
// bounded by the caller's free worker capacity. It also enforces the
// single-in-flight rule for ordering keys: a fetched message whose key
// already has a message in flight is made visible again immediately and
// never dispatched.
type Fetcher struct {
	client QueueClient
	group  *ProcessingGroup
	log    logger.Logger

	// onFatal is invoked when a queue turns out to be missing or
	// forbidden. The manager removes it from rotation and the launcher
	// hears about it on its error channel.
	onFatal func(queue string, err error)

	inflightKeys sync.Map // ordering key -> struct{}
}

// NewFetcher creates a fetcher for one group.
func NewFetcher(client QueueClient, group *ProcessingGroup, log logger.Logger, onFatal func(queue string, err error)) *Fetcher {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Fetcher{
		client:  client,
		group:   group,
		log:     log,
		onFatal: onFatal,
	}
}

// Fetch receives up to limit messages from the queue. Transient backend
// errors are swallowed and reported as an empty fetch so the strategy's
// pause cycle provides the retry. Fatal queue errors disable the queue.
func (f *Fetcher) Fetch(ctx context.Context, q *Queue, limit int) []*Message {
	if limit > MaxReceiveBatch {
		limit = MaxReceiveBatch
	}
	if limit <= 0 {
		return nil
	}

	ctx = logger.WithQueue(ctx, q.Name)
	msgs, err := f.client.Receive(ctx, q.Name, limit, f.group.WaitTime)
	if err != nil {
		if errorutil.IsFatalForQueue(err) {
			f.log.Errorf(ctx, "[Fetcher] queue disabled: %v", err)
			if f.onFatal != nil {
				f.onFatal(q.Name, err)
			}
			return nil
		}
		// Timeout or throttle: behave like an empty queue and let the
		// pause cycle retry.
		f.log.Warnf(ctx, "[Fetcher] receive failed, treating as empty: %v", err)
		return nil
	}

	return f.filterOrderingKeys(ctx, q, msgs)
}

// filterOrderingKeys drops messages whose ordering key already has a
// message in flight, returning them to the queue immediately. In batch
// mode messages sharing a key within one fetch stay together, since the
// batch is handed to the handler as a single unit.
func (f *Fetcher) filterOrderingKeys(ctx context.Context, q *Queue, msgs []*Message) []*Message {
	thisFetch := make(map[string]bool)
	out := msgs[:0]
	for _, m := range msgs {
		m.Queue = q.Name
		if m.OrderingKey == "" {
			out = append(out, m)
			continue
		}
		if f.group.Batch && thisFetch[m.OrderingKey] {
			out = append(out, m)
			continue
		}
		if _, busy := f.inflightKeys.LoadOrStore(m.OrderingKey, struct{}{}); busy {
			f.log.Debugf(ctx, "[Fetcher] ordering key %s busy, releasing message %s", m.OrderingKey, m.ID)
			if err := f.client.ChangeVisibility(ctx, q.Name, m.ReceiptHandle, 0); err != nil {
				f.log.Warnf(ctx, "[Fetcher] release of message %s failed: %v", m.ID, err)
			}
			continue
		}
		thisFetch[m.OrderingKey] = true
		out = append(out, m)
	}
	return out
}

// Release frees the message's ordering key once processing finished or
// the message was abandoned.
func (f *Fetcher) Release(m *Message) {
	if m.OrderingKey != "" {
		f.inflightKeys.Delete(m.OrderingKey)
	}
}

// WaitTime reports the group's long-poll wait, mostly for debug dumps.
func (f *Fetcher) WaitTime() time.Duration {
	return f.group.WaitTime
}
