package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/queue"
)

type triggerCall struct {
	task string
	args map[string][]int64
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []triggerCall
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, task string, args map[string][]int64) (queue.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return queue.Message{}, f.err
	}
	f.calls = append(f.calls, triggerCall{task: task, args: args})
	return queue.Message{ID: "msg-1", Task: task, Args: args}, nil
}

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func newTestServer(sub Submitter, state *coordinator.RunState, checks map[string]Pinger, cfg Config) *Server {
	return NewServer(sub, state, checks, cfg, zap.NewNop())
}

func serve(s *Server, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	s := newTestServer(sub, coordinator.New(), nil, Config{})

	rec := serve(s, http.MethodPost, "/v1/tasks/fetch", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"message_id":"msg-1"`)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(s, http.MethodPost, "/v1/tasks/classify", []byte(`{"ids":[4,5]}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []triggerCall{
		{task: "fetch"},
		{task: "classify", args: map[string][]int64{"ids": {4, 5}}},
	}, sub.calls)
}

func TestSubmitTaskRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeSubmitter{}, coordinator.New(), nil, Config{})

	require.Equal(t, http.StatusNotFound, serve(s, http.MethodPost, "/v1/tasks/crawl", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(s, http.MethodPost, "/v1/tasks/fetch", []byte(`{bad`), nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(s, http.MethodPost, "/v1/tasks/fetch", []byte(`{"ids":[1]}`), nil).Code)
}

func TestSubmitTaskQueueFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeSubmitter{err: errors.New("broker down")}, coordinator.New(), nil, Config{})
	rec := serve(s, http.MethodPost, "/v1/tasks/vectorize", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "broker down")
}

func TestRunStateEndpoints(t *testing.T) {
	t.Parallel()

	state := coordinator.New()
	state.SetFetcherRunning(true)
	state.SetClassifierRunning(true)
	s := newTestServer(&fakeSubmitter{}, state, nil, Config{})

	rec := serve(s, http.MethodGet, "/v1/runstate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap coordinator.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, coordinator.Snapshot{Fetcher: true, Classifier: true}, snap)

	rec = serve(s, http.MethodPost, "/v1/runstate/reset", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, coordinator.Snapshot{}, state.Snapshot())
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeSubmitter{}, coordinator.New(), nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/runstate", nil, nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/runstate", nil, http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	healthy := newTestServer(&fakeSubmitter{}, coordinator.New(), map[string]Pinger{
		"db": pingFunc(func(context.Context) error { return nil }),
	}, Config{})
	require.Equal(t, http.StatusOK, serve(healthy, http.MethodGet, "/readyz", nil, nil).Code)

	broken := newTestServer(&fakeSubmitter{}, coordinator.New(), map[string]Pinger{
		"broker": pingFunc(func(context.Context) error { return errors.New("refused") }),
	}, Config{})
	rec := serve(broken, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "refused")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeSubmitter{}, coordinator.New(), nil, Config{})
	serve(s, http.MethodGet, "/healthz", nil, nil)
	rec := serve(s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
