// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/bugscope/internal/bugs"
)

// Repository is an in-memory bugs.Repository.
type Repository struct {
	mu         sync.RWMutex
	nextID     int64
	reports    map[int64]bugs.BugReport
	byURL      map[string]int64
	categories map[string]int64
	projects   []bugs.TrackedDBMS
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		reports:    make(map[int64]bugs.BugReport),
		byURL:      make(map[string]int64),
		categories: make(map[string]int64),
	}
}

// AddProject registers a tracked project.
func (r *Repository) AddProject(p bugs.TrackedDBMS) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = append(r.projects, p)
}

// AddCategory registers a category name and returns its ID.
func (r *Repository) AddCategory(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.categories[name]; ok {
		return id
	}
	id := int64(len(r.categories) + 1)
	r.categories[name] = id
	return id
}

// TrackedProjects returns the registered projects.
func (r *Repository) TrackedProjects(_ context.Context) ([]bugs.TrackedDBMS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]bugs.TrackedDBMS(nil), r.projects...), nil
}

// LatestIssueTime returns the newest issue creation time for dbmsID.
func (r *Repository) LatestIssueTime(_ context.Context, dbmsID int64) (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest time.Time
	found := false
	for _, rep := range r.reports {
		if rep.DBMSID != dbmsID {
			continue
		}
		if !found || rep.IssueCreatedAt.After(latest) {
			latest = rep.IssueCreatedAt
			found = true
		}
	}
	return latest, found, nil
}

// SaveBugReport validates and inserts a report. A report with a URL already
// stored replaces the earlier row and keeps its ID, category, priority and
// vector.
func (r *Repository) SaveBugReport(_ context.Context, report bugs.BugReport) (int64, error) {
	if err := report.Validate(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byURL[report.URL]; ok {
		prev := r.reports[id]
		report.ID = id
		report.CategoryID = prev.CategoryID
		report.Vector = prev.Vector
		report.Priority = prev.Priority
		r.reports[id] = report
		return id, nil
	}
	r.nextID++
	report.ID = r.nextID
	r.reports[report.ID] = report
	r.byURL[report.URL] = report.ID
	return report.ID, nil
}

// UnclassifiedBugReports returns reports without a category, ordered by ID.
func (r *Repository) UnclassifiedBugReports(_ context.Context) ([]bugs.BugReport, error) {
	return r.filter(func(rep bugs.BugReport) bool { return rep.CategoryID == nil }), nil
}

// UnvectorizedBugReports returns reports without an embedding, ordered by ID.
func (r *Repository) UnvectorizedBugReports(_ context.Context) ([]bugs.BugReport, error) {
	return r.filter(func(rep bugs.BugReport) bool { return rep.Vector == nil }), nil
}

// BugReportsByIDs returns the reports with the given IDs; unknown IDs are ignored.
func (r *Repository) BugReportsByIDs(_ context.Context, ids []int64) ([]bugs.BugReport, error) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return r.filter(func(rep bugs.BugReport) bool {
		_, ok := want[rep.ID]
		return ok
	}), nil
}

// Report returns a stored report by ID.
func (r *Repository) Report(id int64) (bugs.BugReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[id]
	return rep, ok
}

func (r *Repository) filter(keep func(bugs.BugReport) bool) []bugs.BugReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []bugs.BugReport
	for _, rep := range r.reports {
		if keep(rep) {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CategoryIDByName resolves a category name.
func (r *Repository) CategoryIDByName(_ context.Context, name string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.categories[name]
	if !ok {
		return 0, fmt.Errorf("category %q: %w", name, bugs.ErrNotFound)
	}
	return id, nil
}

// UpdateBugCategory assigns a category.
func (r *Repository) UpdateBugCategory(_ context.Context, bugID, categoryID int64) error {
	return r.update(bugID, func(rep *bugs.BugReport) { rep.CategoryID = &categoryID })
}

// UpdateBugPriority sets the priority.
func (r *Repository) UpdateBugPriority(_ context.Context, bugID int64, priority bugs.Priority) error {
	if _, err := bugs.ParsePriority(string(priority)); err != nil {
		return err
	}
	return r.update(bugID, func(rep *bugs.BugReport) { rep.Priority = priority })
}

// UpdateBugVector stores an embedding.
func (r *Repository) UpdateBugVector(_ context.Context, bugID int64, vector []float32) error {
	v := append([]float32{}, vector...)
	return r.update(bugID, func(rep *bugs.BugReport) { rep.Vector = v })
}

func (r *Repository) update(bugID int64, fn func(*bugs.BugReport)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[bugID]
	if !ok {
		return fmt.Errorf("bug report %d: %w", bugID, bugs.ErrNotFound)
	}
	fn(&rep)
	r.reports[bugID] = rep
	return nil
}
