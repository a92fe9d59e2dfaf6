// Package worker runs queued task messages and applies the retry contract:
// retryable failures are re-enqueued with their progress state until the
// retry budget runs out, rate-limited runs wait for the reset, and fatal or
// exhausted messages are dead-lettered.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/metrics"
	"github.com/JakeFAU/bugscope/internal/queue"
	"github.com/JakeFAU/bugscope/internal/tasks"
)

// DefaultMaxRetries bounds retryable failures per message.
const DefaultMaxRetries = 3

// Dead-letter reasons.
const (
	ReasonFatal       = "fatal"
	ReasonMaxRetries  = "max retries exceeded"
	ReasonUnknownTask = "unknown task"
)

// Config controls Worker behavior.
type Config struct {
	MaxRetries int
}

// Worker consumes queue messages and executes the named task.
type Worker struct {
	queue  queue.Queue
	tasks  map[string]tasks.Task
	clock  bugs.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker. registry maps task names to bodies.
func New(q queue.Queue, registry map[string]tasks.Task, clock bugs.Clock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, tasks: registry, clock: clock, cfg: cfg, logger: logger}
}

// Run blocks, consuming messages until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued message",
			zap.String("message_id", msg.ID),
			zap.String("task", msg.Task),
			zap.Int("attempt", msg.Attempt),
		)
		w.Process(ctx, msg)
	}
}

// Process runs one message and settles its outcome on the queue.
func (w *Worker) Process(ctx context.Context, msg queue.Message) {
	logger := w.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("task", msg.Task),
		zap.Int("attempt", msg.Attempt),
	)
	task, ok := w.tasks[msg.Task]
	if !ok {
		logger.Error("no task registered for message")
		w.deadLetter(ctx, msg, ReasonUnknownTask, logger)
		return
	}

	metrics.IncActiveWorkers()
	start := time.Now()
	res, err := task.Run(ctx, msg.Clone())
	metrics.DecActiveWorkers()

	outcome, delay := tasks.Classify(err, w.clock.Now())
	metrics.ObserveTask(msg.Task, outcome, time.Since(start))

	if outcome != tasks.OutcomeSuccess && ctx.Err() != nil {
		logger.Warn("task interrupted by shutdown", zap.Error(err))
		return
	}

	next := msg.Clone()
	if res.State != nil {
		next.State = res.State
	}

	switch outcome {
	case tasks.OutcomeSuccess:
		logger.Info("task succeeded", zap.Any("state", res.State))
	case tasks.OutcomeFatal:
		logger.Error("task failed permanently", zap.Error(err))
		w.abandon(task, next)
		w.deadLetter(ctx, next, ReasonFatal+": "+err.Error(), logger)
	case tasks.OutcomeRateLimited:
		metrics.ObserveRetry(msg.Task, outcome)
		logger.Warn("task rate limited, rescheduled", zap.Duration("delay", delay), zap.Error(err))
		w.requeue(ctx, task, next, delay, logger)
	default:
		if msg.Attempt >= w.cfg.MaxRetries {
			logger.Error("task retries exhausted", zap.Int("max_retries", w.cfg.MaxRetries), zap.Error(err))
			w.abandon(task, next)
			w.deadLetter(ctx, next, ReasonMaxRetries+": "+err.Error(), logger)
			return
		}
		next.Attempt++
		metrics.ObserveRetry(msg.Task, outcome)
		logger.Warn("task failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		w.requeue(ctx, task, next, delay, logger)
	}
}

func (w *Worker) requeue(ctx context.Context, task tasks.Task, msg queue.Message, delay time.Duration, logger *zap.Logger) {
	if err := w.queue.Enqueue(ctx, msg, delay); err != nil {
		logger.Error("re-enqueue failed", zap.Error(err))
		w.abandon(task, msg)
		w.deadLetter(ctx, msg, "requeue failed: "+err.Error(), logger)
	}
}

func (w *Worker) abandon(task tasks.Task, msg queue.Message) {
	if a, ok := task.(tasks.Abandoner); ok {
		a.Abandon(msg)
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg queue.Message, reason string, logger *zap.Logger) {
	metrics.ObserveDeadLetter(msg.Task)
	if err := w.queue.DeadLetter(ctx, msg, reason); err != nil {
		logger.Error("dead-letter failed", zap.String("reason", reason), zap.Error(err))
	}
}
