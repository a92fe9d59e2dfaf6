// Package api hosts the admin HTTP server. Routes:
//   - GET /healthz and /readyz for probes; readyz pings the database and broker.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks/{task} to enqueue fetch, classify or vectorize on demand.
//   - GET /v1/runstate and POST /v1/runstate/reset to inspect or clear the
//     pipeline running flags.
package api
