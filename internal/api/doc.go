// Package api hosts the HTTP server, middleware, and REST handlers for the listing
// publisher. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST/GET /v1/listings for intake and listing reads.
//   - POST /v1/post-ad, GET /v1/queue-status and DELETE /v1/queue/{id} for the posting queue.
//   - GET/DELETE /v1/session for the stored marketplace session.
package api
