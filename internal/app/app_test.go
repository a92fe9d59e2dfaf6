package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/config"
	"github.com/JakeFAU/bugscope/internal/tasks"
)

func memoryConfig(t *testing.T, trackerURL string) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5, ShutdownTimeoutSeconds: 1},
		GitHub: config.GitHubConfig{
			BaseURL:        trackerURL,
			TimeoutSeconds: 5,
			Label:          "fuzz/sqlancer",
			PerPage:        100,
		},
		Broker:     config.BrokerConfig{QueueDepth: 8},
		Schedule:   config.ScheduleConfig{Fetch: "0 0", Enabled: true},
		Classifier: config.ClassifierConfig{FuzzyWeight: 0.4, SemanticWeight: 0.4, OverlapWeight: 0.2, AcceptanceFloor: 0.7},
		Tasks:      config.TasksConfig{MaxRetries: 3, PollIntervalSeconds: 1},
		Worker:     config.WorkerConfig{Concurrency: 2},
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewMemoryMode(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, memoryConfig(t, "http://127.0.0.1:1/"))
	require.NotNil(t, a.State())
	require.NotNil(t, a.scheduler)
	require.Contains(t, a.tasks, tasks.NameFetch)
	require.NotContains(t, a.tasks, tasks.NameClassify)
	require.NotContains(t, a.tasks, tasks.NameVectorize)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewSeedsProjectsAndCategories(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t, "http://127.0.0.1:1/")
	cfg.Projects = []config.ProjectConfig{{Name: "SQLite", Repository: "sqlite/sqlite"}}
	a := newTestApp(t, cfg)

	projects, err := a.Repository().TrackedProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, int64(1), projects[0].ID)

	_, err = a.Repository().CategoryIDByName(context.Background(), "Others")
	require.NoError(t, err)
}

func TestRunOnceClassifyWithoutArtifact(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, memoryConfig(t, "http://127.0.0.1:1/"))
	_, err := a.RunOnce(context.Background(), tasks.NameClassify, nil)
	require.ErrorIs(t, err, ErrClassifierNotConfigured)

	_, err = a.RunOnce(context.Background(), tasks.NameVectorize, nil)
	require.Error(t, err)
}

func TestRunOnceFetchWithNoProjects(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_count":0,"items":[]}`))
	}))
	t.Cleanup(srv.Close)

	a := newTestApp(t, memoryConfig(t, srv.URL+"/"))
	res, err := a.RunOnce(context.Background(), tasks.NameFetch, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.State[tasks.StateIssuesCount])
	require.Zero(t, calls)
	require.False(t, a.State().FetcherRunning())
}

func TestFetchWithoutArtifactLeavesReportsUnclassified(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`{"total_count":1,"items":[{"title":"Segfault in planner","body":"boom","html_url":"https://github.com/acme/db/issues/1","state":"open","created_at":"2024-03-01T12:00:00Z"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"total_count":1,"items":[]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := memoryConfig(t, srv.URL+"/")
	cfg.Projects = []config.ProjectConfig{{Name: "AcmeDB", Repository: "acme/db"}}
	a := newTestApp(t, cfg)

	res, err := a.RunOnce(context.Background(), tasks.NameFetch, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.State[tasks.StateIssuesCount])
	require.False(t, a.State().ClassifierRunning())
	mu.Lock()
	require.Equal(t, 2, pages)
	mu.Unlock()

	pending, err := a.Repository().UnclassifiedBugReports(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Nil(t, pending[0].CategoryID)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.queue.Dequeue(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(t, "http://127.0.0.1:1/")
	cfg.Server.Port = 0
	cfg.Schedule.Enabled = false
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Serve(ctx))
}
