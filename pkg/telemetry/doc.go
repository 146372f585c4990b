// Package telemetry provides observability instrumentation for dispatchd.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring the webhook router and its dispatch workers.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation and domain field helpers:
//
//	logger := tel.Logger.NewComponentLogger("dispatcher")
//	logger = logger.WithInstanceID("app-1a2b3c4d").WithPhase("build")
//	logger.Info("Launching phase process")
//
// # Metrics
//
// Prometheus metrics are registered on a dedicated registry and served on the
// main HTTP mux via Metrics.Handler(). Key metrics:
//
//   - dispatchd_webhook_events_total{event,outcome}
//   - dispatchd_webhook_handle_duration_seconds{outcome}
//   - dispatchd_dispatches_enqueued_total{family,phase}
//   - dispatchd_dispatches_completed_total{family,phase,status}
//   - dispatchd_validation_failures_total{family,phase,reason}
//   - dispatchd_active_instances{family}
//   - dispatchd_port_slots_reserved{family}
//   - dispatchd_queued_tasks / dispatchd_running_tasks
//
// # Tracing
//
// One span per webhook delivery (webhook.handle) and one per executed task
// (task.execute). Supported exporters: otlp (production), stdout
// (development), none (testing).
package telemetry
