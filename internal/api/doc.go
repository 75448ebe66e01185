// Package api hosts the admin HTTP server used in scheduled mode. Routes:
//   - GET /healthz and /readyz for probes; readyz is 200 only after a successful refresh.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/refresh to run a refresh now (optionally rate limited), GET /v1/refresh/last for the last outcome.
package api
