// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/bugscope/internal/queue"
)

// retryInterval spaces attempts to place a message on a full queue.
const retryInterval = 10 * time.Millisecond

// Queue is a bounded in-memory queue with context-aware operations.
// Delayed messages are held by timers until they become ready.
type Queue struct {
	ch      chan queue.Message
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	seq     uint64
	timers  map[uint64]*time.Timer

	deadMu sync.Mutex
	dead   []queue.Message
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:     make(chan queue.Message, capacity),
		done:   make(chan struct{}),
		timers: make(map[uint64]*time.Timer),
	}
}

// Enqueue pushes a message into the queue, immediately or after delay.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return queue.ErrClosed
	}
	if delay > 0 {
		msg.NotBefore = time.Now().Add(delay)
		q.schedule(delay, msg)
		q.closeMu.Unlock()
		return nil
	}
	q.closeMu.Unlock()

	for {
		sent, err := q.trySend(msg)
		if sent || err != nil {
			return err
		}
		wait := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-q.done:
			wait.Stop()
			return queue.ErrClosed
		case <-wait.C:
		}
	}
}

// trySend offers msg once without blocking. The lock is not held between
// attempts.
func (q *Queue) trySend(msg queue.Message) (bool, error) {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return false, queue.ErrClosed
	}
	select {
	case q.ch <- msg:
		return true, nil
	default:
		return false, nil
	}
}

// schedule arms a timer for msg. closeMu must be held.
func (q *Queue) schedule(delay time.Duration, msg queue.Message) {
	q.seq++
	key := q.seq
	q.timers[key] = time.AfterFunc(delay, func() { q.release(key, msg) })
}

func (q *Queue) release(key uint64, msg queue.Message) {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	delete(q.timers, key)
	if q.closed {
		return
	}
	select {
	case q.ch <- msg:
	default:
		q.schedule(retryInterval, msg)
	}
}

// Dequeue pops the next ready message, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (queue.Message, error) {
	select {
	case <-ctx.Done():
		return queue.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-q.ch:
		if !ok {
			return queue.Message{}, queue.ErrClosed
		}
		return msg, nil
	}
}

// DeadLetter records msg with reason.
func (q *Queue) DeadLetter(_ context.Context, msg queue.Message, reason string) error {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	msg.Reason = reason
	q.dead = append(q.dead, msg)
	return nil
}

// DeadLetters returns a copy of the dead-letter list.
func (q *Queue) DeadLetters() []queue.Message {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	return append([]queue.Message(nil), q.dead...)
}

// Pending returns the number of delayed messages not yet released.
func (q *Queue) Pending() int {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	return len(q.timers)
}

// Close stops pending timers and closes the channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	for _, t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
	close(q.ch)
	close(q.done)
	q.closed = true
}
