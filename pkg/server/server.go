package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/issueops/dispatchd/pkg/config"
	"github.com/issueops/dispatchd/pkg/dispatch"
	"github.com/issueops/dispatchd/pkg/event"
	"github.com/issueops/dispatchd/pkg/queue"
	"github.com/issueops/dispatchd/pkg/telemetry"
	"github.com/issueops/dispatchd/pkg/workflow"
)

// Dispatcher accepts a validated resolution for execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, cls *event.Classification, res workflow.Resolution) (*dispatch.Receipt, error)
}

// Reporter posts feedback comments to the originating issue.
type Reporter interface {
	Comment(ctx context.Context, family string, issueNumber int, body string) error
	Rejection(ctx context.Context, family string, issueNumber int, reason, remediation string) error
}

// Auditor records routing decisions and reports queue health.
type Auditor interface {
	RecordDecision(ctx context.Context, d *queue.Decision) error
	HealthCheck(ctx context.Context) error
}

// InstanceCounter reports active instance counts per family.
type InstanceCounter interface {
	ActiveCount(ctx context.Context, family workflow.Family) (int, error)
}

// Server is the webhook HTTP front end of the router.
type Server struct {
	cfg        *config.Config
	telemetry  *telemetry.Telemetry
	detector   *workflow.Detector
	validator  *workflow.Validator
	dispatcher Dispatcher
	reporter   Reporter
	tasks      Auditor
	store      InstanceCounter

	// Routing settings reload at runtime; the webhook handler reads them
	// under the lock.
	mu         sync.RWMutex
	classifier *event.Classifier
	resolver   *workflow.Resolver

	httpServer *http.Server
}

// NewServer wires the routing pipeline behind the HTTP endpoints.
func NewServer(
	cfg *config.Config,
	tel *telemetry.Telemetry,
	classifier *event.Classifier,
	detector *workflow.Detector,
	resolver *workflow.Resolver,
	validator *workflow.Validator,
	dispatcher Dispatcher,
	reporter Reporter,
	tasks Auditor,
	store InstanceCounter,
) *Server {
	s := &Server{
		cfg:        cfg,
		telemetry:  tel,
		classifier: classifier,
		detector:   detector,
		resolver:   resolver,
		validator:  validator,
		dispatcher: dispatcher,
		reporter:   reporter,
		tasks:      tasks,
		store:      store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", tel.Metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	return s
}

// Handler exposes the routing mux.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// UpdateRouting swaps the routing settings after a config reload. The model
// allow-list and bot markers take effect for subsequent deliveries.
func (s *Server) UpdateRouting(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = event.NewClassifier(cfg.Routing.AppMarker, cfg.Routing.InfraMarker)
	s.resolver = workflow.NewResolver(cfg.Routing.Models)
}

// routing returns the current classifier and resolver.
func (s *Server) routing() (*event.Classifier, *workflow.Resolver) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifier, s.resolver
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.telemetry.Logger.WithField("address", s.cfg.Server.ListenAddress).Info("Webhook server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.telemetry.Logger.Info("Shutting down webhook server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown: %w", err)
	}
	return nil
}

