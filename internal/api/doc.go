// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/schedule for the current schedule document.
//   - POST /v1/events to inject an event envelope onto the bus.
//   - GET /v1/movies/{id} and /v1/rankings/{date} for stored records.
package api
