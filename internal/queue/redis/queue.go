// Package redis implements queue.Queue on Redis: a ready list consumed with
// BRPOP, a sorted set of delayed messages scored by their due time, and a
// dead-letter list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/queue"
)

// Config configures the broker.
type Config struct {
	URL string
	// Prefix namespaces the keys. Defaults to "bugscope".
	Prefix string
	// PollInterval bounds how long Dequeue blocks before re-checking
	// delayed messages.
	PollInterval time.Duration
	// ConnectTimeout bounds the initial ping retries.
	ConnectTimeout time.Duration
}

// Queue is a Redis-backed broker.
type Queue struct {
	rdb    *goredis.Client
	ready  string
	delay  string
	dead   string
	poll   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New connects to cfg.URL, retrying the initial ping with exponential backoff.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.ConnectTimeout
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}
	notify := func(err error, wait time.Duration) {
		if logger != nil {
			logger.Warn("redis ping failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		}
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), notify); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *goredis.Client, cfg Config, logger *zap.Logger) *Queue {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bugscope"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		rdb:    rdb,
		ready:  prefix + ":tasks:ready",
		delay:  prefix + ":tasks:delayed",
		dead:   prefix + ":tasks:dead",
		poll:   poll,
		now:    time.Now,
		logger: logger,
	}
}

// Enqueue pushes msg onto the ready list, or into the delayed set when
// delay is positive.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if delay > 0 {
		msg.NotBefore = q.now().Add(delay)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if delay > 0 {
		score := float64(msg.NotBefore.UnixMilli())
		if err := q.rdb.ZAdd(ctx, q.delay, goredis.Z{Score: score, Member: raw}).Err(); err != nil {
			return fmt.Errorf("schedule message: %w", err)
		}
		return nil
	}
	if err := q.rdb.LPush(ctx, q.ready, raw).Err(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// Dequeue blocks until a message is ready or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (queue.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Message{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn("promote delayed messages failed", zap.Error(err))
		}
		res, err := q.rdb.BRPop(ctx, q.poll, q.ready).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return queue.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return queue.Message{}, fmt.Errorf("pop message: %w", err)
		}
		var msg queue.Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			q.logger.Error("dropping undecodable message", zap.String("raw", res[1]), zap.Error(err))
			continue
		}
		return msg, nil
	}
}

// promoteDue moves due delayed messages to the ready list. ZREM decides
// which consumer owns a message when several promote concurrently.
func (q *Queue) promoteDue(ctx context.Context) error {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delay, &goredis.ZRangeBy{Min: "-inf", Max: max, Count: 100}).Result()
	if err != nil {
		return fmt.Errorf("list due messages: %w", err)
	}
	for _, raw := range due {
		removed, err := q.rdb.ZRem(ctx, q.delay, raw).Result()
		if err != nil {
			return fmt.Errorf("claim due message: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.ready, raw).Err(); err != nil {
			return fmt.Errorf("release due message: %w", err)
		}
	}
	return nil
}

// DeadLetter appends msg to the dead-letter list.
func (q *Queue) DeadLetter(ctx context.Context, msg queue.Message, reason string) error {
	msg.Reason = reason
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.dead, raw).Err(); err != nil {
		return fmt.Errorf("dead-letter message: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]queue.Message, error) {
	raws, err := q.rdb.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]queue.Message, 0, len(raws))
	for _, raw := range raws {
		var msg queue.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping checks broker connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (q *Queue) Close() error {
	if err := q.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
