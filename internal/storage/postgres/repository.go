// Package postgres provides the Postgres-backed bugs.Repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bugscope/internal/bugs"
)

//go:embed schema.sql
var schemaSQL string

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
}

// Tables names the tables used by the repository.
type Tables struct {
	DBMS       string
	Categories string
	Reports    string
}

func (t Tables) withDefaults() Tables {
	if t.DBMS == "" {
		t.DBMS = "dbms"
	}
	if t.Categories == "" {
		t.Categories = "bug_categories"
	}
	if t.Reports == "" {
		t.Reports = "bug_reports"
	}
	return t
}

func (t Tables) validate() error {
	for _, name := range []string{t.DBMS, t.Categories, t.Reports} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Repository implements bugs.Repository on Postgres.
type Repository struct {
	pool   querier
	tables Tables
}

var _ bugs.Repository = (*Repository)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	tables := cfg.Tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool, tables: tables}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(pool querier, tables Tables) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &Repository{pool: pool, tables: tables}, nil
}

// Close releases the pool.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// EnsureSchema creates the default tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r.tables != (Tables{}).withDefaults() {
		return fmt.Errorf("schema bootstrap only supports default table names")
	}
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TrackedProjects lists every tracked DBMS.
func (r *Repository) TrackedProjects(ctx context.Context) ([]bugs.TrackedDBMS, error) {
	query := fmt.Sprintf(`SELECT id, name, repository, COALESCE(label, '') FROM %s ORDER BY id`, r.tables.DBMS)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tracked projects: %w", err)
	}
	defer rows.Close()
	var out []bugs.TrackedDBMS
	for rows.Next() {
		var p bugs.TrackedDBMS
		if err := rows.Scan(&p.ID, &p.Name, &p.Repository, &p.Label); err != nil {
			return nil, fmt.Errorf("scan tracked project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked projects: %w", err)
	}
	return out, nil
}

// LatestIssueTime returns the newest stored issue creation time for dbmsID.
func (r *Repository) LatestIssueTime(ctx context.Context, dbmsID int64) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT MAX(issue_created_at) FROM %s WHERE dbms_id = $1`, r.tables.Reports)
	var latest *time.Time
	if err := r.pool.QueryRow(ctx, query, dbmsID).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest issue time: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// SaveBugReport inserts a report or refreshes the tracker-owned columns of
// the row with the same URL. Category, priority and vector are kept.
func (r *Repository) SaveBugReport(ctx context.Context, report bugs.BugReport) (int64, error) {
	if err := report.Validate(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	dbms_id,
	title,
	description,
	url,
	issue_created_at,
	issue_updated_at,
	issue_closed_at,
	is_closed,
	priority
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	issue_updated_at = EXCLUDED.issue_updated_at,
	issue_closed_at = EXCLUDED.issue_closed_at,
	is_closed = EXCLUDED.is_closed
RETURNING id`, r.tables.Reports)

	var id int64
	err := r.pool.QueryRow(ctx, query,
		report.DBMSID,
		report.Title,
		report.Description,
		report.URL,
		report.IssueCreatedAt,
		report.IssueUpdatedAt,
		report.IssueClosedAt,
		report.IsClosed,
		string(report.Priority),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert bug report: %w", err)
	}
	return id, nil
}

const reportColumns = `id, dbms_id, category_id, title, COALESCE(description, ''), url,
	issue_created_at, issue_updated_at, issue_closed_at, is_closed, priority, vector`

// UnclassifiedBugReports returns every report without a category.
func (r *Repository) UnclassifiedBugReports(ctx context.Context) ([]bugs.BugReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE category_id IS NULL ORDER BY id`, reportColumns, r.tables.Reports)
	return r.queryReports(ctx, query)
}

// UnvectorizedBugReports returns every report without a vector.
func (r *Repository) UnvectorizedBugReports(ctx context.Context) ([]bugs.BugReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE vector IS NULL ORDER BY id`, reportColumns, r.tables.Reports)
	return r.queryReports(ctx, query)
}

// BugReportsByIDs returns the reports with the given IDs.
func (r *Repository) BugReportsByIDs(ctx context.Context, ids []int64) ([]bugs.BugReport, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1) ORDER BY id`, reportColumns, r.tables.Reports)
	return r.queryReports(ctx, query, ids)
}

func (r *Repository) queryReports(ctx context.Context, query string, args ...any) ([]bugs.BugReport, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bug reports: %w", err)
	}
	defer rows.Close()
	var out []bugs.BugReport
	for rows.Next() {
		var (
			b        bugs.BugReport
			priority string
		)
		if err := rows.Scan(
			&b.ID,
			&b.DBMSID,
			&b.CategoryID,
			&b.Title,
			&b.Description,
			&b.URL,
			&b.IssueCreatedAt,
			&b.IssueUpdatedAt,
			&b.IssueClosedAt,
			&b.IsClosed,
			&priority,
			&b.Vector,
		); err != nil {
			return nil, fmt.Errorf("scan bug report: %w", err)
		}
		b.Priority = bugs.Priority(strings.TrimSpace(priority))
		if b.Priority == "" {
			b.Priority = bugs.PriorityUnassigned
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bug reports: %w", err)
	}
	return out, nil
}

// CategoryIDByName resolves a category name.
func (r *Repository) CategoryIDByName(ctx context.Context, name string) (int64, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1`, r.tables.Categories)
	var id int64
	err := r.pool.QueryRow(ctx, query, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("category %q: %w", name, bugs.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query category: %w", err)
	}
	return id, nil
}

// UpdateBugCategory sets the category of one report.
func (r *Repository) UpdateBugCategory(ctx context.Context, bugID, categoryID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET category_id = $2 WHERE id = $1`, r.tables.Reports)
	return r.updateOne(ctx, "category", query, bugID, categoryID)
}

// UpdateBugPriority sets the priority of one report.
func (r *Repository) UpdateBugPriority(ctx context.Context, bugID int64, priority bugs.Priority) error {
	if _, err := bugs.ParsePriority(string(priority)); err != nil {
		return fmt.Errorf("%w: %v", bugs.ErrInvalidReport, err)
	}
	query := fmt.Sprintf(`UPDATE %s SET priority = $2 WHERE id = $1`, r.tables.Reports)
	return r.updateOne(ctx, "priority", query, bugID, string(priority))
}

// UpdateBugVector stores the document vector of one report.
func (r *Repository) UpdateBugVector(ctx context.Context, bugID int64, vector []float32) error {
	query := fmt.Sprintf(`UPDATE %s SET vector = $2 WHERE id = $1`, r.tables.Reports)
	return r.updateOne(ctx, "vector", query, bugID, vector)
}

func (r *Repository) updateOne(ctx context.Context, what, query string, bugID int64, value any) error {
	tag, err := r.pool.Exec(ctx, query, bugID, value)
	if err != nil {
		return fmt.Errorf("update bug %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bug report %d: %w", bugID, bugs.ErrNotFound)
	}
	return nil
}
