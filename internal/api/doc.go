// Package api hosts the HTTP server for the news digest. Notable routes:
//   - GET / with POST /fetch and /export: the browser form, backed by a
//     cookie-bound session.
//   - /v1/sessions/...: the same operations as JSON, guarded by the optional
//     API key.
//   - GET /healthz, /readyz for probes and GET /metrics for Prometheus.
package api
