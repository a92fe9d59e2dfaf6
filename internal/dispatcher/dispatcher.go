// Package dispatcher manages worker fan-out over the task queue and is the
// single entry point for submitting new task messages.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/queue"
	"github.com/JakeFAU/bugscope/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	ids     bugs.IDGenerator
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker, ids bugs.IDGenerator) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
		ids:     ids,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, msg queue.Message) error {
	if err := d.queue.Enqueue(ctx, msg, 0); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit enqueues a fresh message for task and returns it.
func (d *Dispatcher) Submit(ctx context.Context, task string, args map[string][]int64) (queue.Message, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return queue.Message{}, fmt.Errorf("message id: %w", err)
	}
	msg := queue.Message{ID: id, Task: task, Args: args}
	if err := d.Enqueue(ctx, msg); err != nil {
		return queue.Message{}, err
	}
	return msg, nil
}
