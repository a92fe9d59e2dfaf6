// Package fetcher incrementally pulls new issues for every tracked project
// from the issue tracker and stores them as bug reports.
//
// Each project pass runs INIT (latest stored timestamp), QUERY (build the
// search), PAGE_FETCH (repeat until an empty page) and ends in DONE or in an
// error that the caller classifies for retry.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/metrics"
)

// DefaultLabel is the issue label searched when a project sets none.
const DefaultLabel = "fuzz/sqlancer"

// Config controls search and paging.
type Config struct {
	Label   string
	PerPage int
}

// Pacer spaces consecutive page requests for the same repository. Forget
// is called once a project pass is done.
type Pacer interface {
	Wait(ctx context.Context, key string) (time.Duration, error)
	Forget(key string)
}

// Handoff is notified after every stored page.
type Handoff interface {
	AfterPage(ctx context.Context)
}

// Fetcher stores new tracker issues for all tracked projects.
type Fetcher struct {
	tracker Tracker
	repo    bugs.Repository
	state   *coordinator.RunState
	pacer   Pacer
	handoff Handoff
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Fetcher. pacer and handoff may be nil.
func New(
	tracker Tracker,
	repo bugs.Repository,
	state *coordinator.RunState,
	pacer Pacer,
	handoff Handoff,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		tracker: tracker,
		repo:    repo,
		state:   state,
		pacer:   pacer,
		handoff: handoff,
		cfg:     cfg,
		logger:  logger,
	}
}

// FetchNewIssues runs one pass over every tracked project. total is the
// running count carried over from earlier attempts; the updated count is
// returned on success and on error.
func (f *Fetcher) FetchNewIssues(ctx context.Context, total int) (int, error) {
	projects, err := f.repo.TrackedProjects(ctx)
	if err != nil {
		return total, fmt.Errorf("load tracked projects: %w", err)
	}
	if len(projects) == 0 {
		f.logger.Warn("no tracked projects, nothing to fetch")
		return total, nil
	}
	for _, p := range projects {
		total, err = f.FetchProject(ctx, p, total)
		if err != nil {
			return total, err
		}
	}
	f.logger.Info("finished fetching issues", zap.Int("total_issues_count", total))
	return total, nil
}

// FetchProject runs the state machine for one project.
func (f *Fetcher) FetchProject(ctx context.Context, p bugs.TrackedDBMS, total int) (int, error) {
	f.state.SetFetcherRunning(true)
	defer f.state.SetFetcherRunning(false)

	logger := f.logger.With(zap.Int64("dbms_id", p.ID), zap.String("repository", p.Repository))

	latest, ok, err := f.repo.LatestIssueTime(ctx, p.ID)
	if err != nil {
		return total, fmt.Errorf("dbms %d: latest issue time: %w", p.ID, err)
	}
	var since *time.Time
	if ok {
		since = &latest
	}
	query := BuildQuery(p.Repository, f.label(p), since)
	logger.Info("searching issues", zap.String("query", query))

	for page := 1; ; page++ {
		if f.pacer != nil {
			waited, err := f.pacer.Wait(ctx, p.Repository)
			if err != nil {
				return total, fmt.Errorf("dbms %d: %w", p.ID, err)
			}
			metrics.ObserveRateLimitWait(p.Repository, waited)
		}
		issues, err := f.tracker.SearchPage(ctx, query, page, f.cfg.PerPage)
		if errors.Is(err, ErrSearchWindowExceeded) {
			logger.Warn("search window exhausted, remaining issues picked up next run", zap.Int("page", page))
			f.forget(p)
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("dbms %d page %d: %w", p.ID, page, err)
		}
		if len(issues) == 0 {
			logger.Info("no more new issues", zap.Int("pages", page-1))
			f.forget(p)
			return total, nil
		}
		for _, issue := range issues {
			if f.store(ctx, p, issue, logger) {
				total++
			}
		}
		if f.handoff != nil {
			f.handoff.AfterPage(ctx)
		}
	}
}

func (f *Fetcher) forget(p bugs.TrackedDBMS) {
	if f.pacer != nil {
		f.pacer.Forget(p.Repository)
	}
}

func (f *Fetcher) label(p bugs.TrackedDBMS) string {
	if p.Label != "" {
		return p.Label
	}
	return f.cfg.Label
}

func (f *Fetcher) store(ctx context.Context, p bugs.TrackedDBMS, issue Issue, logger *zap.Logger) bool {
	report := ToBugReport(p.ID, issue)
	id, err := f.repo.SaveBugReport(ctx, report)
	if err != nil {
		metrics.ObserveIssueSaveFailure(p.Repository)
		logger.Error("failed to save issue", zap.String("title", report.Title), zap.Error(err))
		return false
	}
	metrics.ObserveIssueStored(p.Repository)
	logger.Debug("stored issue", zap.String("title", report.Title), zap.Int64("bug_id", id))
	return true
}

// BuildQuery returns the tracker search for issues of repo carrying label,
// created strictly after since when given.
func BuildQuery(repo, label string, since *time.Time) string {
	if strings.ContainsAny(label, " \t") {
		label = `"` + label + `"`
	}
	q := fmt.Sprintf("repo:%s is:issue label:%s", repo, label)
	if since != nil {
		q += " created:>" + since.UTC().Format(time.RFC3339)
	}
	return q
}

// ToBugReport maps a tracker issue onto a new bug report.
func ToBugReport(dbmsID int64, issue Issue) bugs.BugReport {
	closed := issue.State == "closed"
	report := bugs.BugReport{
		DBMSID:         dbmsID,
		Title:          strings.TrimSpace(issue.Title),
		Description:    strings.TrimSpace(issue.Body),
		URL:            issue.HTMLURL,
		IssueCreatedAt: issue.CreatedAt.UTC(),
		IssueUpdatedAt: utcPtr(issue.UpdatedAt),
		IsClosed:       closed,
		Priority:       bugs.PriorityUnassigned,
	}
	if closed {
		report.IssueClosedAt = utcPtr(issue.ClosedAt)
	}
	return report
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
