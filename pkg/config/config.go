package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the dispatchd router.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// State configures durable instance state and worktree locations.
	State StateConfig `yaml:"state" validate:"required"`

	// Queue configures the dispatch task queue.
	Queue QueueConfig `yaml:"queue"`

	// Routing configures markers and the model allow-list.
	Routing RoutingConfig `yaml:"routing"`

	// Runner configures how phase entry points are launched.
	Runner RunnerConfig `yaml:"runner" validate:"required"`

	// GitHub configures the reporter target repository.
	GitHub GitHubConfig `yaml:"github" validate:"required"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address the webhook server binds to.
	ListenAddress string `yaml:"listen_address" validate:"required,hostname_port"`

	// ReadHeaderTimeout bounds header parsing on inbound requests.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StateConfig configures durable state locations.
type StateConfig struct {
	// Dir is the root directory for instance state documents.
	Dir string `yaml:"dir" validate:"required"`

	// WorktreeDir is the root directory for per-instance git worktrees.
	WorktreeDir string `yaml:"worktree_dir" validate:"required"`

	// RepoRoot is the git repository the worktrees are created from.
	RepoRoot string `yaml:"repo_root" validate:"required"`

	// BaseBranch is the branch new instance branches fork from.
	BaseBranch string `yaml:"base_branch"`
}

// QueueConfig configures the durable dispatch queue.
type QueueConfig struct {
	// Path is the SQLite database path for the task queue and audit log.
	// Defaults to <state.dir>/dispatch.db when empty.
	Path string `yaml:"path"`

	// Workers is the size of the bounded worker pool.
	Workers int `yaml:"workers" validate:"min=1,max=64"`
}

// RoutingConfig configures event routing behavior.
type RoutingConfig struct {
	// Models is the allow-list of recognized model override names.
	Models []string `yaml:"models" validate:"min=1,dive,required"`

	// AppMarker is the app family bot-identity marker.
	AppMarker string `yaml:"app_marker" validate:"required"`

	// InfraMarker is the infra family bot-identity marker.
	InfraMarker string `yaml:"infra_marker" validate:"required"`
}

// RunnerConfig configures phase entry point launching.
type RunnerConfig struct {
	// ScriptDir holds the phase entry points, one executable per
	// "<family>-<phase>" name.
	ScriptDir string `yaml:"script_dir" validate:"required"`

	// Timeout bounds a single phase process execution. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

// GitHubConfig configures the GitHub reporter.
type GitHubConfig struct {
	// Repo is the "owner/name" repository issues belong to.
	Repo string `yaml:"repo" validate:"required,contains=/"`
}

// TelemetryConfig configures the observability stack.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// MetricsEnabled toggles the Prometheus endpoint.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// TracingEnabled toggles OpenTelemetry tracing.
	TracingEnabled bool `yaml:"tracing_enabled"`

	// TracingExporter selects the trace exporter (otlp, stdout, none).
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:     ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		State: StateConfig{
			BaseBranch: "main",
		},
		Queue: QueueConfig{
			Workers: 4,
		},
		Routing: RoutingConfig{
			Models:      []string{"sonnet", "opus", "haiku"},
			AppMarker:   "[APP-AGENTS]",
			InfraMarker: "[INFRA-AGENTS]",
		},
		Runner: RunnerConfig{
			Timeout: 2 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsEnabled:  true,
			TracingExporter: "stdout",
		},
	}
}

// Load reads, merges, and validates a configuration file.
// Defaults are applied first, then the file, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	// Derive the queue path from the state dir when not set explicitly.
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = filepath.Join(cfg.State.Dir, "dispatch.db")
	}

	return cfg, nil
}

// applyEnvOverrides merges environment variable overrides into the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DISPATCHD_LISTEN_ADDRESS"); v != "" {
		c.Server.ListenAddress = v
	}
	if v := os.Getenv("DISPATCHD_GITHUB_REPO"); v != "" {
		c.GitHub.Repo = v
	}
	if v := os.Getenv("DISPATCHD_STATE_DIR"); v != "" {
		c.State.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return err
	}

	return nil
}
