// Package api hosts the optional operator HTTP endpoint that runs alongside a
// crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live run counters.
package api
