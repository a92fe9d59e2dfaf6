package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bugscope/internal/fetcher"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewWithHTTPClient(srv.Client(), srv.URL)
	require.NoError(t, err)
	return c
}

func TestSearchPageMapsIssues(t *testing.T) {
	t.Parallel()

	var gotQuery, gotSort, gotOrder, gotPage, gotPerPage string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/issues", r.URL.Path)
		q := r.URL.Query()
		gotQuery, gotSort, gotOrder = q.Get("q"), q.Get("sort"), q.Get("order")
		gotPage, gotPerPage = q.Get("page"), q.Get("per_page")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"total_count":2,"incomplete_results":false,"items":[
			{"title":"Crash","body":"trace","html_url":"https://github.com/a/b/issues/1","state":"closed",
			 "created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-02T00:00:00Z","closed_at":"2024-01-03T00:00:00Z"},
			{"title":"Slow","html_url":"https://github.com/a/b/issues/2","state":"open","created_at":"2024-01-05T00:00:00Z"}
		]}`)
	})

	issues, err := c.SearchPage(context.Background(), "repo:a/b is:issue", 2, 50)
	require.NoError(t, err)
	require.Equal(t, "repo:a/b is:issue", gotQuery)
	require.Equal(t, "created", gotSort)
	require.Equal(t, "asc", gotOrder)
	require.Equal(t, "2", gotPage)
	require.Equal(t, "50", gotPerPage)

	require.Len(t, issues, 2)
	require.Equal(t, "Crash", issues[0].Title)
	require.Equal(t, "closed", issues[0].State)
	require.NotNil(t, issues[0].ClosedAt)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), issues[0].CreatedAt.UTC())
	require.Equal(t, "", issues[1].Body)
	require.Nil(t, issues[1].ClosedAt)
}

func TestSearchPageRateLimit(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "30")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded for user."}`)
	})

	_, err := c.SearchPage(context.Background(), "q", 1, 100)
	require.ErrorIs(t, err, fetcher.ErrRateLimited)
	var rl *fetcher.RateLimitError
	require.True(t, errors.As(err, &rl))
	require.True(t, rl.ResetAt.Equal(reset))
}

func TestSearchPageBadCredentials(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	})

	_, err := c.SearchPage(context.Background(), "q", 1, 100)
	require.ErrorIs(t, err, fetcher.ErrBadCredentials)
}

func TestSearchPageAPIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"message":"unavailable"}`)
	})

	_, err := c.SearchPage(context.Background(), "q", 1, 100)
	var apiErr *fetcher.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestSearchPageBeyondWindow(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Only the first 1000 search results are available"}`)
	})

	_, err := c.SearchPage(context.Background(), "q", 11, 100)
	require.ErrorIs(t, err, fetcher.ErrSearchWindowExceeded)

	_, err = c.SearchPage(context.Background(), "q", 1, 100)
	var apiErr *fetcher.APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	c, err := New(context.Background(), Config{Token: "t", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	require.Equal(t, "http://localhost:1/", c.gh.BaseURL.String())
}
