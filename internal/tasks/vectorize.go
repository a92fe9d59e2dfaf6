package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/metrics"
	"github.com/JakeFAU/bugscope/internal/queue"
)

// DocEmbedder turns a report's text into a fixed-size vector.
type DocEmbedder interface {
	DocVector(text string) []float32
}

// VectorizeTask stores a document vector for every report missing one.
type VectorizeTask struct {
	repo     bugs.Repository
	embedder DocEmbedder
	state    *coordinator.RunState
	poll     time.Duration
	logger   *zap.Logger
}

// NewVectorizeTask builds the vectorize task.
func NewVectorizeTask(
	repo bugs.Repository,
	embedder DocEmbedder,
	state *coordinator.RunState,
	poll time.Duration,
	logger *zap.Logger,
) *VectorizeTask {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorizeTask{
		repo:     repo,
		embedder: embedder,
		state:    state,
		poll:     poll,
		logger:   logger.Named(NameVectorize),
	}
}

// Run loops like the classify task over reports without a vector.
func (t *VectorizeTask) Run(ctx context.Context, msg queue.Message) (Result, error) {
	total := counter(msg, StateVectorized)
	t.state.SetVectorizerRunning(true)
	keepFlag := false
	defer func() {
		if !keepFlag {
			t.state.SetVectorizerRunning(false)
		}
	}()

	for {
		producerWasRunning := t.state.FetcherRunning()
		n, err := t.pass(ctx)
		total += int64(n)
		if err != nil {
			res := withCounter(msg, StateVectorized, total)
			if ctx.Err() != nil {
				return res, err
			}
			t.logger.Warn("vectorize pass failed", zap.Error(err))
			keepFlag = true
			return res, Retry(err, UnexpectedRetryDelay)
		}
		if !coordinator.ShouldContinue(n, producerWasRunning) {
			break
		}
		if n == 0 {
			if err := sleep(ctx, t.poll); err != nil {
				return withCounter(msg, StateVectorized, total), err
			}
		}
	}
	t.logger.Info("vectorizer finished", zap.Int64("total_vectorized", total))
	return withCounter(msg, StateVectorized, total), nil
}

func (t *VectorizeTask) pass(ctx context.Context) (int, error) {
	reports, err := t.repo.UnvectorizedBugReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unvectorized reports: %w", err)
	}
	done := 0
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("vectorize canceled: %w", err)
		}
		vec := t.embedder.DocVector(r.Title + " " + r.Description)
		if err := t.repo.UpdateBugVector(ctx, r.ID, vec); err != nil {
			t.logger.Error("store vector failed", zap.Int64("bug_id", r.ID), zap.Error(err))
			continue
		}
		metrics.ObserveVectorized()
		done++
	}
	return done, nil
}

// Abandon clears the vectorizer flag once retries are exhausted.
func (t *VectorizeTask) Abandon(queue.Message) {
	t.state.SetVectorizerRunning(false)
}
