// Package server exposes the retention cleanup engine over HTTP.
//
// Endpoints:
//
//	POST /api/v1/cleanup?app_id=         trigger a manual cleanup run (409 while a run is active)
//	GET  /api/v1/cleanup/preview?app_id= dry-run deletion counts with per-policy breakdown
//	GET  /api/v1/cleanup/runs            run history, most recent first (limit/offset)
//	GET  /healthz                        liveness probe
//	GET  /metrics                        Prometheus metrics
package server
