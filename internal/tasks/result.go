// Package tasks holds the bodies of the background jobs run by the worker
// harness: fetch, classify and vectorize. A task reports how it ended through
// its error value; the harness decides between done, retry and dead-letter
// from the error kind alone.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/bugscope/internal/queue"
)

// Task names used on the queue.
const (
	NameFetch     = "fetch"
	NameClassify  = "classify"
	NameVectorize = "vectorize"
)

// Progress counters carried in Result.State across retries.
const (
	StateIssuesCount = "total_issues_count"
	StateClassified  = "total_classified"
	StateVectorized  = "total_vectorized"
)

// ArgIDs restricts classify to the listed report IDs.
const ArgIDs = "ids"

// Default retry delays.
const (
	APIErrorRetryDelay   = 60 * time.Second
	UnexpectedRetryDelay = 30 * time.Second
)

// Result is what a task hands back to the harness. State is preserved on the
// retried message so counters resume instead of restarting.
type Result struct {
	State map[string]int64
}

// Task is one named job body.
type Task interface {
	Run(ctx context.Context, msg queue.Message) (Result, error)
}

// Abandoner is implemented by tasks that need cleanup once the harness stops
// retrying them.
type Abandoner interface {
	Abandon(msg queue.Message)
}

// Func adapts a function to Task.
type Func func(ctx context.Context, msg queue.Message) (Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, msg queue.Message) (Result, error) {
	return f(ctx, msg)
}

// RetryableError asks for the message to be retried after After.
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.After, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// RateLimitedError asks for the message to be retried once ResetAt passes.
// It does not consume the retry budget.
type RateLimitedError struct {
	Err     error
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s: %v", e.ResetAt.UTC().Format(time.RFC3339), e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// FatalError aborts the message without retry.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Retry wraps err as retryable after d.
func Retry(err error, d time.Duration) error {
	return &RetryableError{Err: err, After: d}
}

// Fatal wraps err as non-retryable.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// Outcome kinds returned by Classify.
const (
	OutcomeSuccess     = "success"
	OutcomeRetry       = "retry"
	OutcomeRateLimited = "rate_limited"
	OutcomeFatal       = "fatal"
)

// Classify maps a task error onto an outcome and the delay before the next
// attempt. Errors that are not one of the typed kinds are treated as
// unexpected and retried after UnexpectedRetryDelay.
func Classify(err error, now time.Time) (outcome string, delay time.Duration) {
	if err == nil {
		return OutcomeSuccess, 0
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return OutcomeFatal, 0
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return OutcomeRateLimited, max(limited.ResetAt.Sub(now), 0)
	}
	var retry *RetryableError
	if errors.As(err, &retry) {
		return OutcomeRetry, retry.After
	}
	return OutcomeRetry, UnexpectedRetryDelay
}

func counter(msg queue.Message, key string) int64 {
	return msg.State[key]
}

func withCounter(msg queue.Message, key string, v int64) Result {
	state := make(map[string]int64, len(msg.State)+1)
	for k, val := range msg.State {
		state[k] = val
	}
	state[key] = v
	return Result{State: state}
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
