// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/runs/{run_id}/progress for crawl progress via
//     the ProgressSource interface.
package api
