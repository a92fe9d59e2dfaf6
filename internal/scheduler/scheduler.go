// Package scheduler enqueues the periodic fetch task on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/queue"
	"github.com/JakeFAU/bugscope/internal/tasks"
)

// Submitter enqueues new task messages.
type Submitter interface {
	Submit(ctx context.Context, task string, args map[string][]int64) (queue.Message, error)
}

// Scheduler fires the fetch task on its schedule.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	entry     cron.EntryID
	logger    *zap.Logger
}

// ParseSchedule accepts "<minute> <hour>" or a full five-field cron
// expression and returns the five-field form.
func ParseSchedule(expr string) (string, error) {
	fields := strings.Fields(expr)
	switch len(fields) {
	case 2:
		fields = append(fields, "*", "*", "*")
	case 5:
	default:
		return "", fmt.Errorf("schedule %q: want \"<minute> <hour>\" or five cron fields", expr)
	}
	spec := strings.Join(fields, " ")
	if _, err := cron.ParseStandard(spec); err != nil {
		return "", fmt.Errorf("schedule %q: %w", expr, err)
	}
	return spec, nil
}

// New builds a Scheduler running in UTC.
func New(submitter Submitter, expr string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	spec, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{submitter: submitter, logger: logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
	)
	s.entry, err = s.cron.AddFunc(spec, func() {
		if _, err := s.Trigger(context.Background(), tasks.NameFetch, nil); err != nil {
			s.logger.Error("scheduled fetch enqueue failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("register schedule: %w", err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next_fetch", s.Next()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next returns the next scheduled fetch time. It is zero before Run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Trigger enqueues task immediately.
func (s *Scheduler) Trigger(ctx context.Context, task string, args map[string][]int64) (queue.Message, error) {
	msg, err := s.submitter.Submit(ctx, task, args)
	if err != nil {
		return queue.Message{}, fmt.Errorf("trigger %s: %w", task, err)
	}
	s.logger.Info("task enqueued", zap.String("task", task), zap.String("message_id", msg.ID))
	return msg, nil
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
