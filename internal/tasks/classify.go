package tasks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/classifier"
	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/queue"
)

// DefaultPollInterval is how long consumer loops wait for more work while
// the fetcher is still running.
const DefaultPollInterval = 5 * time.Second

// ReportClassifier is the part of classifier.Engine the classify task drives.
type ReportClassifier interface {
	ClassifyUnclassified(ctx context.Context) (int, error)
	ClassifyByIDs(ctx context.Context, ids []int64) (int, error)
}

// ClassifyTask drains unclassified reports while the fetcher produces them.
type ClassifyTask struct {
	engine ReportClassifier
	state  *coordinator.RunState
	poll   time.Duration
	logger *zap.Logger
}

// NewClassifyTask builds the classify task. poll <= 0 means DefaultPollInterval.
func NewClassifyTask(engine ReportClassifier, state *coordinator.RunState, poll time.Duration, logger *zap.Logger) *ClassifyTask {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassifyTask{engine: engine, state: state, poll: poll, logger: logger.Named(NameClassify)}
}

// Run classifies the reports in Args["ids"] when present, otherwise loops
// over unclassified reports until none are left and the fetcher is idle.
func (t *ClassifyTask) Run(ctx context.Context, msg queue.Message) (Result, error) {
	total := counter(msg, StateClassified)
	if ids := msg.Args[ArgIDs]; len(ids) > 0 {
		n, err := t.engine.ClassifyByIDs(ctx, ids)
		res := withCounter(msg, StateClassified, total+int64(n))
		if errors.Is(err, classifier.ErrClassifierUnavailable) {
			return res, Fatal(err)
		}
		if err != nil {
			return res, Retry(err, UnexpectedRetryDelay)
		}
		return res, nil
	}

	t.state.SetClassifierRunning(true)
	keepFlag := false
	defer func() {
		if !keepFlag {
			t.state.SetClassifierRunning(false)
		}
	}()

	for {
		producerWasRunning := t.state.FetcherRunning()
		n, err := t.engine.ClassifyUnclassified(ctx)
		total += int64(n)
		if err != nil {
			res := withCounter(msg, StateClassified, total)
			if errors.Is(err, classifier.ErrClassifierUnavailable) {
				t.logger.Error("classifier unavailable, aborting", zap.Error(err))
				return res, Fatal(err)
			}
			if ctx.Err() != nil {
				return res, err
			}
			t.logger.Warn("classification pass failed", zap.Int64("total_classified", total), zap.Error(err))
			keepFlag = true
			return res, Retry(err, UnexpectedRetryDelay)
		}
		if n > 0 {
			t.logger.Info("classification pass done", zap.Int("classified", n), zap.Int64("total_classified", total))
		}
		if !coordinator.ShouldContinue(n, producerWasRunning) {
			break
		}
		if n == 0 {
			if err := sleep(ctx, t.poll); err != nil {
				return withCounter(msg, StateClassified, total), err
			}
		}
	}
	t.logger.Info("classifier finished", zap.Int64("total_classified", total))
	return withCounter(msg, StateClassified, total), nil
}

// Abandon clears the classifier flag once retries are exhausted. Runs over
// explicit IDs never own the flag and leave it alone.
func (t *ClassifyTask) Abandon(msg queue.Message) {
	if len(msg.Args[ArgIDs]) > 0 {
		return
	}
	t.state.SetClassifierRunning(false)
}
