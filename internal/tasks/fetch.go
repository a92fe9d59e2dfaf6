package tasks

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/fetcher"
	"github.com/JakeFAU/bugscope/internal/queue"
)

// IssueFetcher is the part of fetcher.Fetcher the fetch task drives.
type IssueFetcher interface {
	FetchNewIssues(ctx context.Context, total int) (int, error)
}

// FetchTask pulls new issues for every tracked project.
type FetchTask struct {
	fetcher IssueFetcher
	state   *coordinator.RunState
	logger  *zap.Logger
}

// NewFetchTask builds the fetch task.
func NewFetchTask(f IssueFetcher, state *coordinator.RunState, logger *zap.Logger) *FetchTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchTask{fetcher: f, state: state, logger: logger.Named(NameFetch)}
}

// Run fetches and maps failures onto the retry contract.
func (t *FetchTask) Run(ctx context.Context, msg queue.Message) (Result, error) {
	start := counter(msg, StateIssuesCount)
	total, err := t.fetcher.FetchNewIssues(ctx, int(start))
	res := withCounter(msg, StateIssuesCount, int64(total))
	if err == nil {
		t.logger.Info("fetch finished",
			zap.String("message_id", msg.ID),
			zap.Int("total_issues_count", total),
			zap.Int64("new_this_attempt", int64(total)-start),
		)
		return res, nil
	}
	return res, t.mapError(err)
}

func (t *FetchTask) mapError(err error) error {
	var limited *fetcher.RateLimitError
	var apiErr *fetcher.APIError
	switch {
	case errors.As(err, &limited):
		t.logger.Warn("rate limited, rescheduling run", zap.Time("reset_at", limited.ResetAt))
		return &RateLimitedError{Err: err, ResetAt: limited.ResetAt}
	case errors.Is(err, fetcher.ErrBadCredentials):
		t.logger.Error("tracker rejected credentials, aborting", zap.Error(err))
		t.state.SetFetcherRunning(false)
		return Fatal(err)
	case errors.As(err, &apiErr):
		t.logger.Warn("tracker API error", zap.Int("status", apiErr.StatusCode), zap.Error(err))
		return Retry(err, APIErrorRetryDelay)
	default:
		t.logger.Error("unexpected fetch error", zap.Error(err))
		return Retry(err, UnexpectedRetryDelay)
	}
}
