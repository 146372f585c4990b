package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/issueops/dispatchd/pkg/alloc"
	"github.com/issueops/dispatchd/pkg/config"
	"github.com/issueops/dispatchd/pkg/dispatch"
	"github.com/issueops/dispatchd/pkg/event"
	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/queue"
	"github.com/issueops/dispatchd/pkg/report"
	"github.com/issueops/dispatchd/pkg/server"
	"github.com/issueops/dispatchd/pkg/telemetry"
	"github.com/issueops/dispatchd/pkg/workflow"
)

func newServeCommand() *cobra.Command {
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook router",
		Long: `Run the webhook router.

This command:
  - Listens for GitHub issues and issue_comment webhook deliveries
  - Detects workflow trigger tokens and resolves instance ids
  - Allocates worktrees, branches, and ports for new instances
  - Executes phases through the durable task queue and worker pool
  - Reports outcomes to the originating issue`,
		Example: `  # Serve with a config file
  dispatchd serve --config dispatchd.yaml

  # Serve and reload routing config on change
  dispatchd serve --config dispatchd.yaml --watch-config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, watchConfig)
		},
	}

	cmd.Flags().BoolVar(&watchConfig, "watch-config", false, "reload config file on change")

	return cmd
}

func runServe(ctx context.Context, configPath string, watchConfig bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	// Durable state
	store, err := instance.NewStore(cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("initialize instance store: %w", err)
	}

	tasks, err := queue.NewStore(cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("initialize task queue: %w", err)
	}
	if err := tasks.Init(ctx); err != nil {
		return fmt.Errorf("open task queue: %w", err)
	}
	defer tasks.Close()
	if err := tasks.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate task queue: %w", err)
	}
	if reset, err := tasks.ResetRunning(ctx); err != nil {
		return fmt.Errorf("reset interrupted tasks: %w", err)
	} else if reset > 0 {
		tel.Logger.WithField("tasks", reset).Warn("Re-queued tasks interrupted by previous shutdown")
	}

	// Resource allocation
	ports, err := alloc.NewPortTable(filepath.Join(cfg.State.Dir, "ports"))
	if err != nil {
		return fmt.Errorf("initialize port table: %w", err)
	}
	trees, err := alloc.NewWorktreeManager(cfg.State.RepoRoot, cfg.State.WorktreeDir)
	if err != nil {
		return fmt.Errorf("initialize worktree manager: %w", err)
	}
	allocator := alloc.NewAllocator(tel.Logger.Zerolog(), ports, trees, cfg.State.BaseBranch)

	// Routing pipeline
	classifier := event.NewClassifier(cfg.Routing.AppMarker, cfg.Routing.InfraMarker)
	detector := workflow.NewDetector(workflow.DefaultCatalogs()...)
	resolver := workflow.NewResolver(cfg.Routing.Models)
	validator := workflow.NewValidator(store)

	reporter := report.NewReporter(tel.Logger.Zerolog(), cfg.GitHub.Repo, routingMarkers(cfg))

	dispatcher := dispatch.NewDispatcher(tel, store, allocator, tasks)
	runner := dispatch.NewRunner(cfg.Runner.ScriptDir, cfg.Runner.Timeout)
	pool := dispatch.NewPool(tel, tasks, store, runner, reporter, cfg.Queue.Workers)

	srv := server.NewServer(cfg, tel, classifier, detector, resolver, validator, dispatcher, reporter, tasks, store)

	if watchConfig && configPath != "" {
		watcher := config.NewWatcher(tel.Logger.Zerolog(), configPath, cfg)
		if err := watcher.Watch(ctx, func(updated *config.Config) {
			srv.UpdateRouting(updated)
			reporter.UpdateMarkers(routingMarkers(updated))
			tel.Logger.Info("Routing configuration reloaded")
		}); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}

	pool.Start(ctx)

	err = srv.Start(ctx)

	// The HTTP listener is down; let in-flight tasks finish.
	pool.Wait()

	return err
}

// routingMarkers builds the family-to-marker map the reporter prefixes to
// every comment.
func routingMarkers(cfg *config.Config) map[string]string {
	return map[string]string{
		string(workflow.FamilyApp):   cfg.Routing.AppMarker,
		string(workflow.FamilyInfra): cfg.Routing.InfraMarker,
	}
}

// telemetryConfig maps the router's flat telemetry settings onto the
// telemetry stack's configuration.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if cfg.Telemetry.LogLevel != "" {
		tc.Logging.Level = cfg.Telemetry.LogLevel
	}
	if cfg.Telemetry.LogFormat != "" {
		tc.Logging.Format = cfg.Telemetry.LogFormat
	}
	tc.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	tc.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingExporter != "" {
		tc.Tracing.Exporter = cfg.Telemetry.TracingExporter
	}
	if cfg.Telemetry.TracingEndpoint != "" {
		tc.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	}
	return tc
}
