package classifier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/metrics"
)

// Classification methods recorded in logs and metrics.
const (
	MethodKeyword     = "keyword"
	MethodStatistical = "statistical"
)

// Predictor is the fallback classifier.
type Predictor interface {
	PredictDetailed(title, body string) (Prediction, error)
}

// Engine classifies stored bug reports and persists their category.
type Engine struct {
	repo      bugs.Repository
	keywords  *KeywordMatcher
	predictor Predictor
	logger    *zap.Logger
}

// NewEngine wires the two classification stages to a repository.
func NewEngine(repo bugs.Repository, keywords *KeywordMatcher, predictor Predictor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{repo: repo, keywords: keywords, predictor: predictor, logger: logger}
}

// Available reports whether the statistical fallback is loaded. Without it
// the engine refuses to classify anything.
func (e *Engine) Available() bool {
	if e.predictor == nil {
		return false
	}
	if a, ok := e.predictor.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}

// Categorize returns the category name for one report and the method used.
func (e *Engine) Categorize(report bugs.BugReport) (string, string, error) {
	if e.keywords != nil {
		if category, ok := e.keywords.Match(report.Title); ok {
			return category, MethodKeyword, nil
		}
	}
	if e.predictor == nil {
		return "", "", ErrClassifierUnavailable
	}
	p, err := e.predictor.PredictDetailed(report.Title, report.Description)
	if err != nil {
		return "", "", fmt.Errorf("predict: %w", err)
	}
	e.logger.Debug("statistical prediction",
		zap.Int64("bug_id", report.ID),
		zap.String("label", p.Label),
		zap.Float64("probability", p.Probability),
		zap.Float64("threshold", p.Threshold),
		zap.Bool("accepted", p.Accepted),
	)
	return p.Label, MethodStatistical, nil
}

// ClassifyUnclassified classifies every report without a category and
// returns how many were persisted. It returns ErrClassifierUnavailable
// before touching the store when no model is loaded.
func (e *Engine) ClassifyUnclassified(ctx context.Context) (int, error) {
	if !e.Available() {
		return 0, ErrClassifierUnavailable
	}
	reports, err := e.repo.UnclassifiedBugReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unclassified reports: %w", err)
	}
	return e.classifyAll(ctx, reports)
}

// ClassifyByIDs classifies the given reports, including already classified ones.
func (e *Engine) ClassifyByIDs(ctx context.Context, ids []int64) (int, error) {
	if !e.Available() {
		return 0, ErrClassifierUnavailable
	}
	reports, err := e.repo.BugReportsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load reports: %w", err)
	}
	return e.classifyAll(ctx, reports)
}

func (e *Engine) classifyAll(ctx context.Context, reports []bugs.BugReport) (int, error) {
	classified := 0
	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return classified, fmt.Errorf("classify canceled: %w", err)
		}
		ok, err := e.ClassifyReport(ctx, report)
		if errors.Is(err, ErrClassifierUnavailable) {
			return classified, err
		}
		if err != nil {
			e.logger.Error("classify report failed", zap.Int64("bug_id", report.ID), zap.Error(err))
			continue
		}
		if ok {
			classified++
		}
	}
	return classified, nil
}

// ClassifyReport classifies and persists one report. It returns false
// without error when the predicted category is not in the store.
func (e *Engine) ClassifyReport(ctx context.Context, report bugs.BugReport) (bool, error) {
	if !e.Available() {
		return false, ErrClassifierUnavailable
	}
	category, method, err := e.Categorize(report)
	if err != nil {
		return false, err
	}
	categoryID, err := e.repo.CategoryIDByName(ctx, category)
	if errors.Is(err, bugs.ErrNotFound) {
		e.logger.Warn("category not found, skipping report",
			zap.Int64("bug_id", report.ID),
			zap.String("category", category),
		)
		metrics.ObserveClassificationSkipped("unknown_category")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve category %q: %w", category, err)
	}
	if err := e.repo.UpdateBugCategory(ctx, report.ID, categoryID); err != nil {
		return false, fmt.Errorf("update category: %w", err)
	}
	metrics.ObserveClassification(method, category)
	e.logger.Info("report classified",
		zap.Int64("bug_id", report.ID),
		zap.String("category", category),
		zap.String("method", method),
	)
	return true, nil
}
