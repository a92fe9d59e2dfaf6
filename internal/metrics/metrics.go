// Package metrics exposes Prometheus collectors for the ingestion and
// classification pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	issuesStoredTotal          *prometheus.CounterVec
	issueSaveFailuresTotal     *prometheus.CounterVec
	classificationsTotal       *prometheus.CounterVec
	classificationSkipsTotal   *prometheus.CounterVec
	vectorizedTotal            prometheus.Counter
	taskRunsTotal              *prometheus.CounterVec
	taskRetriesTotal           *prometheus.CounterVec
	taskDeadLettersTotal       *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitWaitSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		issuesStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_issues_stored_total",
				Help: "Total number of tracker issues stored, labeled by repository.",
			},
			[]string{"repository"},
		)

		issueSaveFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_issue_save_failures_total",
				Help: "Total number of tracker issues that could not be stored, labeled by repository.",
			},
			[]string{"repository"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_classifications_total",
				Help: "Total number of reports classified, labeled by method and category.",
			},
			[]string{"method", "category"},
		)

		classificationSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_classification_skips_total",
				Help: "Total number of reports left unclassified, labeled by reason.",
			},
			[]string{"reason"},
		)

		vectorizedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bugscope_vectorized_total",
				Help: "Total number of reports whose embedding was stored.",
			},
		)

		taskRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_task_runs_total",
				Help: "Total number of task executions, labeled by task and outcome.",
			},
			[]string{"task", "outcome"},
		)

		taskRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_task_retries_total",
				Help: "Total number of task retries scheduled, labeled by task and reason.",
			},
			[]string{"task", "reason"},
		)

		taskDeadLettersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscope_task_dead_letters_total",
				Help: "Total number of tasks moved to the dead-letter list, labeled by task.",
			},
			[]string{"task"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bugscope_task_duration_seconds",
				Help:    "Histogram of task execution durations, labeled by task.",
				Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 3600},
			},
			[]string{"task"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bugscope_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bugscope_rate_limit_wait_seconds",
				Help:    "Histogram of waits imposed by the issue tracker, labeled by repository.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
			},
			[]string{"repository"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeRepository lowercases an "owner/repo" label, returning "unknown"
// for anything else.
func SanitizeRepository(repo string) string {
	repo = strings.ToLower(strings.TrimSpace(repo))
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "unknown"
	}
	return repo
}

// ObserveIssueStored increments the stored counter for repo.
func ObserveIssueStored(repo string) {
	Init()
	issuesStoredTotal.WithLabelValues(SanitizeRepository(repo)).Inc()
}

// ObserveIssueSaveFailure increments the save-failure counter for repo.
func ObserveIssueSaveFailure(repo string) {
	Init()
	issueSaveFailuresTotal.WithLabelValues(SanitizeRepository(repo)).Inc()
}

// ObserveClassification records a persisted classification.
func ObserveClassification(method, category string) {
	Init()
	classificationsTotal.WithLabelValues(method, category).Inc()
}

// ObserveClassificationSkipped records a report left unclassified.
func ObserveClassificationSkipped(reason string) {
	Init()
	classificationSkipsTotal.WithLabelValues(reason).Inc()
}

// ObserveVectorized records a stored embedding.
func ObserveVectorized() {
	Init()
	vectorizedTotal.Inc()
}

// ObserveTask records one task execution.
func ObserveTask(task, outcome string, duration time.Duration) {
	Init()
	taskRunsTotal.WithLabelValues(task, outcome).Inc()
	taskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveRetry records a scheduled retry.
func ObserveRetry(task, reason string) {
	Init()
	taskRetriesTotal.WithLabelValues(task, reason).Inc()
}

// ObserveDeadLetter records a task that exhausted its retries.
func ObserveDeadLetter(task string) {
	Init()
	taskDeadLettersTotal.WithLabelValues(task).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitWait records the duration a repository pass was deferred.
func ObserveRateLimitWait(repo string, wait time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(SanitizeRepository(repo)).Observe(wait.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
