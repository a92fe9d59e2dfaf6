// Package github implements fetcher.Tracker on the GitHub search API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v29/github"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/bugscope/internal/fetcher"
)

// searchWindow is the number of results GitHub serves for one search.
const searchWindow = 1000

// Config configures the GitHub client.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client searches GitHub issues.
type Client struct {
	gh  *gh.Client
	now func() time.Time
}

// New builds an authenticated client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(ctx, ts)
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		if err := setBaseURL(client, cfg.BaseURL); err != nil {
			return nil, err
		}
	}
	return &Client{gh: client, now: time.Now}, nil
}

// NewWithHTTPClient builds an unauthenticated client against baseURL.
func NewWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if baseURL != "" {
		if err := setBaseURL(client, baseURL); err != nil {
			return nil, err
		}
	}
	return &Client{gh: client, now: time.Now}, nil
}

func setBaseURL(client *gh.Client, raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse github base url: %w", err)
	}
	client.BaseURL = u
	return nil
}

// SearchPage returns one page of issues for query, oldest first.
func (c *Client) SearchPage(ctx context.Context, query string, page, perPage int) ([]fetcher.Issue, error) {
	opts := &gh.SearchOptions{
		Sort:        "created",
		Order:       "asc",
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
	}
	result, _, err := c.gh.Search.Issues(ctx, query, opts)
	if err != nil {
		return nil, c.mapError(err, page, perPage)
	}
	issues := make([]fetcher.Issue, 0, len(result.Issues))
	for _, is := range result.Issues {
		issues = append(issues, toIssue(&is))
	}
	return issues, nil
}

func (c *Client) mapError(err error, page, perPage int) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &fetcher.RateLimitError{ResetAt: rateErr.Rate.Reset.Time, Err: err}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := time.Minute
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return &fetcher.RateLimitError{ResetAt: c.now().Add(wait), Err: err}
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch status := respErr.Response.StatusCode; {
		case status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", fetcher.ErrBadCredentials, respErr.Message)
		case status == http.StatusUnprocessableEntity && page*perPage > searchWindow:
			return fmt.Errorf("%w: %s", fetcher.ErrSearchWindowExceeded, respErr.Message)
		default:
			return &fetcher.APIError{StatusCode: status, Message: respErr.Message}
		}
	}
	return fmt.Errorf("github search: %w", err)
}

func toIssue(is *gh.Issue) fetcher.Issue {
	out := fetcher.Issue{
		Title:     is.GetTitle(),
		Body:      is.GetBody(),
		HTMLURL:   is.GetHTMLURL(),
		State:     is.GetState(),
		UpdatedAt: is.UpdatedAt,
		ClosedAt:  is.ClosedAt,
	}
	if is.CreatedAt != nil {
		out.CreatedAt = *is.CreatedAt
	}
	return out
}
