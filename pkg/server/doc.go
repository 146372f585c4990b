// Package server exposes the webhook HTTP surface of the router.
//
// POST /webhook receives GitHub issue and issue-comment deliveries and runs
// the full routing pipeline: classify, detect, resolve, validate, dispatch.
// GET /healthz and GET /readyz back liveness and readiness probes, and
// GET /metrics serves the Prometheus registry.
package server
