// Package redisq implements the framework queue contract on redis for
// local development and integration tests. Each queue is a pending
// list plus two sorted sets: delayed messages scored by deliver-at and
// in-flight leases scored by visibility deadline. Expired leases fall
// back to pending on the next receive, which gives the same
// at-least-once redelivery behavior as the real backend. It assumes
// one consuming process per queue; it is not a distributed broker.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wsqyouth/sqsflow/internal/framework"
	"github.com/wsqyouth/sqsflow/pkg/errorutil"
)

const pollInterval = 100 * time.Millisecond

// Client implements framework.QueueClient on redis.
type Client struct {
	rdb        *redis.Client
	visibility time.Duration // lease duration granted per receive
}

// storedMessage is the JSON document kept per message.
type storedMessage struct {
	ID          string            `json:"id"`
	Body        []byte            `json:"body"`
	OrderingKey string            `json:"ordering_key,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Attempts    int               `json:"attempts"`
}

// NewClient connects to redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int, visibility time.Duration) (*Client, error) {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb, visibility: visibility}, nil
}

// NewClientFromRedis wraps an existing connection. Used by tests.
func NewClientFromRedis(rdb *redis.Client, visibility time.Duration) *Client {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Client{rdb: rdb, visibility: visibility}
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func keyPending(queue string) string  { return "sqsflow:" + queue + ":pending" }
func keyDelayed(queue string) string  { return "sqsflow:" + queue + ":delayed" }
func keyInflight(queue string) string { return "sqsflow:" + queue + ":inflight" }
func keyReceipts(queue string) string { return "sqsflow:" + queue + ":receipts" }
func keyMessage(queue, id string) string {
	return "sqsflow:" + queue + ":msg:" + id
}

// Receive implements framework.QueueClient. Due delayed messages and
// expired leases are promoted to pending first, then up to maxMessages
// are leased out for the configured visibility.
func (c *Client) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]*framework.Message, error) {
	if maxMessages > framework.MaxReceiveBatch {
		maxMessages = framework.MaxReceiveBatch
	}
	deadline := time.Now().Add(wait)
	for {
		msgs, err := c.receiveOnce(ctx, queue, maxMessages)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, &errorutil.TransientError{Op: "receive", Err: ctx.Err()}
		case <-time.After(pollInterval):
		}
	}
}

func (c *Client) receiveOnce(ctx context.Context, queue string, maxMessages int) ([]*framework.Message, error) {
	now := time.Now()

	if err := c.promoteDue(ctx, keyDelayed(queue), queue, now); err != nil {
		return nil, err
	}
	if err := c.reclaimExpired(ctx, queue, now); err != nil {
		return nil, err
	}

	ids, err := c.rdb.LPopCount(ctx, keyPending(queue), maxMessages).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &errorutil.TransientError{Op: "receive", Err: err}
	}

	msgs := make([]*framework.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := c.lease(ctx, queue, id, now)
		if err != nil {
			return msgs, err
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// promoteDue moves due zset members onto the pending list.
func (c *Client) promoteDue(ctx context.Context, zkey, queue string, now time.Time) error {
	due, err := c.rdb.ZRangeByScore(ctx, zkey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return &errorutil.TransientError{Op: "receive", Err: err}
	}
	for _, member := range due {
		pipe := c.rdb.TxPipeline()
		pipe.ZRem(ctx, zkey, member)
		pipe.RPush(ctx, keyPending(queue), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return &errorutil.TransientError{Op: "receive", Err: err}
		}
	}
	return nil
}

// reclaimExpired returns messages whose lease lapsed to pending.
func (c *Client) reclaimExpired(ctx context.Context, queue string, now time.Time) error {
	expired, err := c.rdb.ZRangeByScore(ctx, keyInflight(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return &errorutil.TransientError{Op: "receive", Err: err}
	}
	for _, receipt := range expired {
		id, err := c.rdb.HGet(ctx, keyReceipts(queue), receipt).Result()
		if err == redis.Nil {
			c.rdb.ZRem(ctx, keyInflight(queue), receipt)
			continue
		}
		if err != nil {
			return &errorutil.TransientError{Op: "receive", Err: err}
		}
		pipe := c.rdb.TxPipeline()
		pipe.ZRem(ctx, keyInflight(queue), receipt)
		pipe.HDel(ctx, keyReceipts(queue), receipt)
		pipe.RPush(ctx, keyPending(queue), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return &errorutil.TransientError{Op: "receive", Err: err}
		}
	}
	return nil
}

// lease marks one message in flight and builds its framework view.
func (c *Client) lease(ctx context.Context, queue, id string, now time.Time) (*framework.Message, error) {
	data, err := c.rdb.Get(ctx, keyMessage(queue, id)).Bytes()
	if err == redis.Nil {
		return nil, nil // deleted under us
	}
	if err != nil {
		return nil, &errorutil.TransientError{Op: "receive", Err: err}
	}
	var stored storedMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, &errorutil.TransientError{Op: "receive", Err: err}
	}

	stored.Attempts++
	updated, err := json.Marshal(&stored)
	if err != nil {
		return nil, &errorutil.TransientError{Op: "receive", Err: err}
	}

	receipt := uuid.NewString()
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, keyMessage(queue, id), updated, 0)
	pipe.HSet(ctx, keyReceipts(queue), receipt, id)
	pipe.ZAdd(ctx, keyInflight(queue), redis.Z{
		Score:  float64(now.Add(c.visibility).UnixMilli()),
		Member: receipt,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &errorutil.TransientError{Op: "receive", Err: err}
	}

	return &framework.Message{
		ID:            stored.ID,
		Body:          stored.Body,
		ReceiptHandle: receipt,
		Attributes:    stored.Attributes,
		OrderingKey:   stored.OrderingKey,
		ReceiveCount:  stored.Attempts,
		Queue:         queue,
	}, nil
}

// Delete implements framework.QueueClient.
func (c *Client) Delete(ctx context.Context, queue string, receipt string) error {
	id, err := c.rdb.HGet(ctx, keyReceipts(queue), receipt).Result()
	if err == redis.Nil {
		return nil // already gone, delete is idempotent
	}
	if err != nil {
		return &errorutil.TransientError{Op: "delete", Err: err}
	}
	pipe := c.rdb.TxPipeline()
	pipe.ZRem(ctx, keyInflight(queue), receipt)
	pipe.HDel(ctx, keyReceipts(queue), receipt)
	pipe.Del(ctx, keyMessage(queue, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return &errorutil.TransientError{Op: "delete", Err: err}
	}
	return nil
}

// DeleteBatch implements framework.QueueClient.
func (c *Client) DeleteBatch(ctx context.Context, queue string, receipts []string) error {
	if err := framework.ValidateDeleteBatch(receipts); err != nil {
		return err
	}
	for _, r := range receipts {
		if err := c.Delete(ctx, queue, r); err != nil {
			return err
		}
	}
	return nil
}

// ChangeVisibility implements framework.QueueClient. A zero duration
// makes the message immediately reclaimable.
func (c *Client) ChangeVisibility(ctx context.Context, queue string, receipt string, visibility time.Duration) error {
	visibility = framework.ClampVisibility(visibility)
	err := c.rdb.ZAddXX(ctx, keyInflight(queue), redis.Z{
		Score:  float64(time.Now().Add(visibility).UnixMilli()),
		Member: receipt,
	}).Err()
	if err != nil {
		return &errorutil.TransientError{Op: "change-visibility", Err: err}
	}
	return nil
}

// Send implements framework.QueueClient.
func (c *Client) Send(ctx context.Context, queue string, body []byte, opts framework.SendOptions) (string, error) {
	if err := framework.ValidateSend(body, opts); err != nil {
		return "", err
	}
	id := uuid.NewString()
	stored := &storedMessage{
		ID:          id,
		Body:        body,
		OrderingKey: opts.OrderingKey,
		Attributes:  opts.Attributes,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", &errorutil.TransientError{Op: "send", Err: err}
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, keyMessage(queue, id), data, 0)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, keyDelayed(queue), redis.Z{
			Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
			Member: id,
		})
	} else {
		pipe.RPush(ctx, keyPending(queue), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", &errorutil.TransientError{Op: "send", Err: err}
	}
	return id, nil
}

// SendBatch implements framework.QueueClient.
func (c *Client) SendBatch(ctx context.Context, queue string, entries []framework.SendEntry) error {
	if err := framework.ValidateSendBatch(entries); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := c.Send(ctx, queue, e.Body, framework.SendOptions{
			Delay:       e.Delay,
			OrderingKey: e.OrderingKey,
		}); err != nil {
			return err
		}
	}
	return nil
}
