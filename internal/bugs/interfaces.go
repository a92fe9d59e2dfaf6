package bugs

import (
	"context"
	"time"
)

// Repository persists bug reports and resolves reference data.
type Repository interface {
	TrackedProjects(ctx context.Context) ([]TrackedDBMS, error)
	// LatestIssueTime returns the newest IssueCreatedAt stored for the project.
	// ok is false when the project has no reports yet.
	LatestIssueTime(ctx context.Context, dbmsID int64) (latest time.Time, ok bool, err error)
	SaveBugReport(ctx context.Context, report BugReport) (int64, error)
	UnclassifiedBugReports(ctx context.Context) ([]BugReport, error)
	UnvectorizedBugReports(ctx context.Context) ([]BugReport, error)
	BugReportsByIDs(ctx context.Context, ids []int64) ([]BugReport, error)
	CategoryIDByName(ctx context.Context, name string) (int64, error)
	UpdateBugCategory(ctx context.Context, bugID, categoryID int64) error
	UpdateBugPriority(ctx context.Context, bugID int64, priority Priority) error
	UpdateBugVector(ctx context.Context, bugID int64, vector []float32) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces message identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
