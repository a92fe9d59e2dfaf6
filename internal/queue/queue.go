// Package queue defines the task message and the broker interface used by
// the scheduler, the API and the workers. Implementations live in the
// memory and redis subpackages.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Dequeue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Message is one task invocation.
type Message struct {
	ID   string `json:"id"`
	Task string `json:"task"`
	// Attempt counts executions that ended in a retryable error.
	Attempt int `json:"attempt"`
	// State carries progress counters across retries.
	State map[string]int64 `json:"state,omitempty"`
	// Args holds task parameters, e.g. report IDs.
	Args      map[string][]int64 `json:"args,omitempty"`
	NotBefore time.Time          `json:"not_before,omitempty"`
	// Reason is set on dead-lettered messages.
	Reason string `json:"reason,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.State != nil {
		out.State = make(map[string]int64, len(m.State))
		for k, v := range m.State {
			out.State[k] = v
		}
	}
	if m.Args != nil {
		out.Args = make(map[string][]int64, len(m.Args))
		for k, v := range m.Args {
			out.Args[k] = append([]int64(nil), v...)
		}
	}
	return out
}

// Queue is a task broker with delayed delivery and a dead-letter list.
type Queue interface {
	// Enqueue makes msg available after delay.
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error
	// Dequeue blocks until a message is ready or ctx ends.
	Dequeue(ctx context.Context) (Message, error)
	// DeadLetter records a message that will not be retried.
	DeadLetter(ctx context.Context, msg Message, reason string) error
}
