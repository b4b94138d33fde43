// Package api hosts the status server run alongside the scheduler. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /runs/last and /runs/last/{service} for the latest run results.
package api
