package classifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/storage/memory"
)

type stubPredictor struct {
	label string
	err   error
	calls int
}

func (s *stubPredictor) PredictDetailed(string, string) (Prediction, error) {
	s.calls++
	if s.err != nil {
		return Prediction{}, s.err
	}
	return Prediction{Label: s.label, Probability: 0.9, Threshold: 0.1, Accepted: true}, nil
}

func seedReport(t *testing.T, repo *memory.Repository, title, url string) int64 {
	t.Helper()
	id, err := repo.SaveBugReport(context.Background(), bugs.BugReport{
		DBMSID:         1,
		Title:          title,
		Description:    "body",
		URL:            url,
		IssueCreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Priority:       bugs.PriorityUnassigned,
	})
	require.NoError(t, err)
	return id
}

func TestClassifyUnclassifiedUsesKeywordsThenModel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	crashID := repo.AddCategory("Crash")
	perfID := repo.AddCategory("Performance")
	kwReport := seedReport(t, repo, "Segfault in planner", "u1")
	mlReport := seedReport(t, repo, "Query takes ages", "u2")

	predictor := &stubPredictor{label: "Performance"}
	engine := NewEngine(repo, defaultMatcher(t), predictor, zap.NewNop())

	n, err := engine.ClassifyUnclassified(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, predictor.calls)

	got, _ := repo.Report(kwReport)
	require.Equal(t, crashID, *got.CategoryID)
	got, _ = repo.Report(mlReport)
	require.Equal(t, perfID, *got.CategoryID)

	n, err = engine.ClassifyUnclassified(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestClassifySkipsUnknownCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	id := seedReport(t, repo, "Query takes ages", "u1")
	engine := NewEngine(repo, defaultMatcher(t), &stubPredictor{label: OthersLabel}, zap.NewNop())

	n, err := engine.ClassifyUnclassified(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	got, _ := repo.Report(id)
	require.Nil(t, got.CategoryID)
}

func TestClassifyPerItemErrorsAreSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	repo.AddCategory("Crash")
	seedReport(t, repo, "Query takes ages", "u1")
	seedReport(t, repo, "crash on insert", "u2")
	engine := NewEngine(repo, defaultMatcher(t), &stubPredictor{err: errors.New("boom")}, zap.NewNop())

	n, err := engine.ClassifyUnclassified(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClassifyWithoutModelFailsFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	seedReport(t, repo, "Query takes ages", "u1")
	engine := NewEngine(repo, defaultMatcher(t), NewStatisticalClassifier(nil, nil), zap.NewNop())

	_, err := engine.ClassifyUnclassified(ctx)
	require.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestClassifyWithoutModelPersistsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	repo.AddCategory("Crash")
	hit := seedReport(t, repo, "Segfault in planner", "u1")
	seedReport(t, repo, "Query takes ages", "u2")

	for _, predictor := range []Predictor{nil, NewStatisticalClassifier(nil, nil)} {
		engine := NewEngine(repo, defaultMatcher(t), predictor, zap.NewNop())
		require.False(t, engine.Available())

		n, err := engine.ClassifyUnclassified(ctx)
		require.ErrorIs(t, err, ErrClassifierUnavailable)
		require.Zero(t, n)

		n, err = engine.ClassifyByIDs(ctx, []int64{hit})
		require.ErrorIs(t, err, ErrClassifierUnavailable)
		require.Zero(t, n)

		got, _ := repo.Report(hit)
		require.Nil(t, got.CategoryID)
	}
}

// failingUpdates fails category writes once ok writes have succeeded.
type failingUpdates struct {
	*memory.Repository
	ok     int
	writes int
}

func (f *failingUpdates) UpdateBugCategory(ctx context.Context, bugID, categoryID int64) error {
	if f.writes >= f.ok {
		return errors.New("connection reset")
	}
	f.writes++
	return f.Repository.UpdateBugCategory(ctx, bugID, categoryID)
}

func TestClassifyResumesAfterPartialBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := memory.NewRepository()
	crashID := mem.AddCategory("Crash")
	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, seedReport(t, mem, fmt.Sprintf("crash %d", i), fmt.Sprintf("u%d", i)))
	}
	repo := &failingUpdates{Repository: mem, ok: 3}
	engine := NewEngine(repo, defaultMatcher(t), &stubPredictor{label: "Crash"}, zap.NewNop())

	n, err := engine.ClassifyUnclassified(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	left, err := mem.UnclassifiedBugReports(ctx)
	require.NoError(t, err)
	require.Len(t, left, 2)

	repo.ok = 5
	n, err = engine.ClassifyUnclassified(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for _, id := range ids {
		got, _ := mem.Report(id)
		require.Equal(t, crashID, *got.CategoryID)
	}
}

func TestClassifyByIDsReclassifies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository()
	crashID := repo.AddCategory("Crash")
	perfID := repo.AddCategory("Performance")
	id := seedReport(t, repo, "crash when idle", "u1")
	require.NoError(t, repo.UpdateBugCategory(ctx, id, perfID))

	engine := NewEngine(repo, defaultMatcher(t), &stubPredictor{label: "Performance"}, zap.NewNop())
	n, err := engine.ClassifyByIDs(ctx, []int64{id})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, _ := repo.Report(id)
	require.Equal(t, crashID, *got.CategoryID)
}

func TestClassifyStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository()
	seedReport(t, repo, "crash", "u1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := NewEngine(repo, defaultMatcher(t), &stubPredictor{}, zap.NewNop())
	_, err := engine.ClassifyUnclassified(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
