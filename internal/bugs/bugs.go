// Package bugs holds the bug-report domain types shared by the fetcher,
// the classifier and the storage layers.
package bugs

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxTitleLength bounds BugReport.Title in runes.
const MaxTitleLength = 256

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReport is returned when a BugReport violates its invariants.
	ErrInvalidReport = errors.New("invalid bug report")
)

// Priority is the triage priority of a bug report.
type Priority string

// Priority values.
const (
	PriorityLow        Priority = "Low"
	PriorityMedium     Priority = "Medium"
	PriorityHigh       Priority = "High"
	PriorityUnassigned Priority = "Unassigned"
)

// ParsePriority converts s into a Priority, rejecting unknown values.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUnassigned:
		return p, nil
	case "":
		return PriorityUnassigned, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// BugReport is one issue ingested from a tracked project.
type BugReport struct {
	ID             int64
	DBMSID         int64
	CategoryID     *int64
	Title          string
	Description    string
	URL            string
	IssueCreatedAt time.Time
	IssueUpdatedAt *time.Time
	IssueClosedAt  *time.Time
	IsClosed       bool
	Priority       Priority
	Vector         []float32
}

// Classified reports whether a category has been assigned.
func (r BugReport) Classified() bool {
	return r.CategoryID != nil
}

// Validate enforces the report invariants: a bounded non-empty title, a URL,
// a creation time, and a closed timestamp present exactly when the report is
// closed.
func (r BugReport) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidReport)
	}
	if n := utf8.RuneCountInString(r.Title); n > MaxTitleLength {
		return fmt.Errorf("%w: title has %d characters, max %d", ErrInvalidReport, n, MaxTitleLength)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidReport)
	}
	if r.IssueCreatedAt.IsZero() {
		return fmt.Errorf("%w: issue_created_at is required", ErrInvalidReport)
	}
	if r.IsClosed && r.IssueClosedAt == nil {
		return fmt.Errorf("%w: issue_closed_at must be set when is_closed is true", ErrInvalidReport)
	}
	if !r.IsClosed && r.IssueClosedAt != nil {
		return fmt.Errorf("%w: issue_closed_at must be empty when is_closed is false", ErrInvalidReport)
	}
	if _, err := ParsePriority(string(r.Priority)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return nil
}

// BugCategory is a taxonomy entry.
type BugCategory struct {
	ID   int64
	Name string
}

// TrackedDBMS is a project whose issue tracker is polled.
type TrackedDBMS struct {
	ID   int64
	Name string
	// Repository is "owner/repo".
	Repository string
	// Label overrides the default issue label filter when non-empty.
	Label string
}
