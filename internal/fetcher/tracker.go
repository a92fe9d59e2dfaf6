package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBadCredentials means the tracker rejected the configured token.
	ErrBadCredentials = errors.New("issue tracker rejected credentials")
	// ErrRateLimited matches any *RateLimitError.
	ErrRateLimited = errors.New("issue tracker rate limit exceeded")
	// ErrSearchWindowExceeded means the tracker refuses to page further
	// into a result set.
	ErrSearchWindowExceeded = errors.New("search result window exceeded")
)

// Issue is the tracker-neutral view of one search hit.
type Issue struct {
	Title     string
	Body      string
	HTMLURL   string
	State     string
	CreatedAt time.Time
	UpdatedAt *time.Time
	ClosedAt  *time.Time
}

// Tracker runs issue searches against a remote tracker. Pages are 1-based;
// an empty page means the result set is exhausted.
type Tracker interface {
	SearchPage(ctx context.Context, query string, page, perPage int) ([]Issue, error)
}

// RateLimitError reports a rate-limit rejection and when the quota resets.
type RateLimitError struct {
	ResetAt time.Time
	Err     error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s: %v", e.ResetAt.UTC().Format(time.RFC3339), e.Err)
}

// Is makes errors.Is(err, ErrRateLimited) succeed.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

func (e *RateLimitError) Unwrap() error { return e.Err }

// APIError is a non-success tracker response that is neither a rate limit
// nor a credential failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("issue tracker API error %d: %s", e.StatusCode, e.Message)
}
