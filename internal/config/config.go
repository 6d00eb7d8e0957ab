// Package config handles loading and validating Amri configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/amri/internal/shellenv"
	"github.com/jkaninda/amri/internal/signals"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Amri.
type Config struct {
	Shell         ShellConfig          `json:"shell" yaml:"shell"`
	Env           EnvConfig            `json:"env" yaml:"env"`
	Executor      ExecutorConfig       `json:"executor" yaml:"executor"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ShellConfig selects the shell binary and how it is launched.
type ShellConfig struct {
	Path     string `json:"path" yaml:"path"`                             // Shell executable. Default: "/bin/sh". Override: AMRI_SHELL env var.
	Workdir  string `json:"workdir,omitempty" yaml:"workdir,omitempty"`   // Working directory for shells. Default: process cwd. Override: AMRI_WORKDIR env var.
	Login    bool   `json:"login" yaml:"login"`                           // Launch as a login shell.
	User     string `json:"user,omitempty" yaml:"user,omitempty"`         // Run shells as this user via the su wrapper. Empty = current user.
	SuPath   string `json:"su_path,omitempty" yaml:"su_path,omitempty"`   // su-like wrapper executable. Default: "/bin/su". Only used when user is set.
	Delivery string `json:"delivery,omitempty" yaml:"delivery,omitempty"` // "native" or "inline". Empty = native, or inline when switching user.
}

// ShellPath returns the shell executable with a default of /bin/sh.
func (s *ShellConfig) ShellPath() string {
	if s.Path != "" {
		return s.Path
	}
	return "/bin/sh"
}

// WrapperPath returns the su wrapper path with a default of /bin/su.
func (s *ShellConfig) WrapperPath() string {
	if s.SuPath != "" {
		return s.SuPath
	}
	return "/bin/su"
}

// SwitchesUser reports whether shells run through the su wrapper.
func (s *ShellConfig) SwitchesUser() bool { return s.User != "" }

// EnvDelivery returns the effective environment delivery mechanism. An
// explicit setting wins; otherwise env vars travel through the
// process-creation API, except when switching user, where the wrapper may
// scrub them, so they are written into the input stream instead.
func (s *ShellConfig) EnvDelivery() shellenv.Delivery {
	switch s.Delivery {
	case "inline":
		return shellenv.DeliveryInline
	case "native":
		return shellenv.DeliveryNative
	}
	if s.SwitchesUser() {
		return shellenv.DeliveryInline
	}
	return shellenv.DeliveryNative
}

// EnvConfig declares the environment presented to every launched shell.
type EnvConfig struct {
	Vars  map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"` // Values support ${VAR} expansion against the caller's environment.
	Reset bool              `json:"reset" yaml:"reset"`                   // Strip runtime-manager variables not explicitly set in vars.
}

// ExecutorConfig bounds invocations and selects the kill signals.
type ExecutorConfig struct {
	TimeoutSeconds   int                `json:"timeout_seconds" yaml:"timeout_seconds"`                       // Default per-request deadline. Default: 60.
	QuiescenceMillis int                `json:"quiescence_millis" yaml:"quiescence_millis"`                   // Interactive output-settle window. Default: 500.
	KillOnTimeout    *KillSignalConfig  `json:"kill_on_timeout,omitempty" yaml:"kill_on_timeout,omitempty"`   // nil = deadline observed but never enforced.
	KillOnExit       *KillSignalConfig  `json:"kill_on_exit,omitempty" yaml:"kill_on_exit,omitempty"`         // nil = no signal on cancellation or shutdown.
	Interactive      *InteractiveConfig `json:"interactive,omitempty" yaml:"interactive,omitempty"`           // nil = isolated mode only.
}

// Timeout returns the default request deadline with a default of 60s.
func (e *ExecutorConfig) Timeout() time.Duration {
	if e != nil && e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// Quiescence returns the interactive settle window with a default of 500ms.
func (e *ExecutorConfig) Quiescence() time.Duration {
	if e != nil && e.QuiescenceMillis > 0 {
		return time.Duration(e.QuiescenceMillis) * time.Millisecond
	}
	return 500 * time.Millisecond
}

// KillSignalConfig names one signal to force on a shell's process group.
type KillSignalConfig struct {
	Signal string `json:"signal" yaml:"signal"` // e.g. "SIGKILL", "TERM", or "9".
}

// Parsed returns the configured signal, nil when the config is absent.
func (k *KillSignalConfig) Parsed() (*signals.Signal, error) {
	if k == nil {
		return nil, nil
	}
	sig, err := signals.Parse(k.Signal)
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// InteractiveConfig enables the persistent shell session.
type InteractiveConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	InitialInput string `json:"initial_input,omitempty" yaml:"initial_input,omitempty"` // Written to the shell right after launch.
}

// InteractiveEnabled reports whether the persistent session is configured.
func (e *ExecutorConfig) InteractiveEnabled() bool {
	return e != nil && e.Interactive != nil && e.Interactive.Enabled
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured. If the entire section
// is absent, the CLI gateway is enabled by default.
type GatewaysConfig struct {
	CLI       *CLIGatewayConfig       `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"` // Rides on the HTTP gateway's server.
}

// CLIGatewayConfig configures the interactive CLI gateway.
type CLIGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool            `json:"enabled" yaml:"enabled"`
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"`                         // Default: ":8080". Override: AMRI_LISTEN_ADDR env var.
	APIToken            string          `json:"api_token,omitempty" yaml:"api_token,omitempty"`         // Bearer token. Override: AMRI_API_TOKEN env var. Empty = unauthenticated.
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`   // Default: 1 MB.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body limit with a default of 1 MB.
func (h *HTTPGatewayConfig) MaxRequestSize() int64 {
	if h != nil && h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return 1 << 20
}

// WebSocketGatewayConfig configures the WebSocket endpoint for the
// interactive session.
type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/ws/session".
}

// WSPath returns the WebSocket path with a default of "/ws/session".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/session"
}

// RateLimitConfig configures per-client rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "amri"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeShell   bool `json:"include_shell" yaml:"include_shell"`     // Probe the shell binary.
	IncludeSession bool `json:"include_session" yaml:"include_session"` // Probe the interactive session's liveness.
}

// DefaultConfigPath returns the default config file path (~/.amri/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/amri.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".amri", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Shell path, working directory, listen address, and API
// token can be set in the config file or overridden by environment
// variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated configuration without reading a file,
// suitable for one-shot CLI use.
func Default() (*Config, error) {
	var cfg Config
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies AMRI_* environment variables on top of file
// values. Environment variables take precedence.
func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("AMRI_SHELL"); env != "" {
		c.Shell.Path = env
	}
	if env := os.Getenv("AMRI_WORKDIR"); env != "" {
		c.Shell.Workdir = env
	}
	if env := os.Getenv("AMRI_API_TOKEN"); env != "" {
		if c.Gateways.HTTP == nil {
			c.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		c.Gateways.HTTP.APIToken = env
	}
	if env := os.Getenv("AMRI_LISTEN_ADDR"); env != "" {
		if c.Gateways.HTTP == nil {
			c.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		c.Gateways.HTTP.ListenAddr = env
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if _, err := exec.LookPath(c.Shell.ShellPath()); err != nil {
		return fmt.Errorf("shell.path %q is not an executable: %w", c.Shell.ShellPath(), err)
	}
	if c.Shell.Workdir != "" {
		info, err := os.Stat(c.Shell.Workdir)
		if err != nil {
			return fmt.Errorf("shell.workdir %q: %w", c.Shell.Workdir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("shell.workdir %q is not a directory", c.Shell.Workdir)
		}
	}
	switch c.Shell.Delivery {
	case "", "native", "inline":
	default:
		return fmt.Errorf("shell.delivery %q is not supported (use native or inline)", c.Shell.Delivery)
	}
	if c.Shell.SwitchesUser() {
		if _, err := exec.LookPath(c.Shell.WrapperPath()); err != nil {
			return fmt.Errorf("shell.su_path %q is not an executable: %w", c.Shell.WrapperPath(), err)
		}
		// A login shell through the wrapper resets the environment, so
		// native delivery can silently lose configured variables.
		if c.Shell.Login && c.Shell.Delivery == "native" {
			return fmt.Errorf("shell.delivery=native cannot be combined with user switching and a login shell")
		}
	}
	for name := range c.Env.Vars {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("env.vars contains an empty variable name")
		}
	}
	if c.Executor.TimeoutSeconds < 0 {
		return fmt.Errorf("executor.timeout_seconds must not be negative")
	}
	if c.Executor.QuiescenceMillis < 0 {
		return fmt.Errorf("executor.quiescence_millis must not be negative")
	}
	if _, err := c.Executor.KillOnTimeout.Parsed(); err != nil {
		return fmt.Errorf("executor.kill_on_timeout: %w", err)
	}
	if _, err := c.Executor.KillOnExit.Parsed(); err != nil {
		return fmt.Errorf("executor.kill_on_exit: %w", err)
	}
	if c.Gateways.WebSocket != nil && c.Gateways.WebSocket.Enabled {
		if !c.Executor.InteractiveEnabled() {
			return fmt.Errorf("gateways.websocket requires executor.interactive to be enabled")
		}
		if c.Gateways.HTTP == nil || !c.Gateways.HTTP.Enabled {
			return fmt.Errorf("gateways.websocket requires the http gateway to be enabled")
		}
	}
	if c.Gateways.HTTP != nil {
		if c.Gateways.HTTP.RateLimit.RequestsPerMinute < 0 || c.Gateways.HTTP.RateLimit.BurstSize < 0 {
			return fmt.Errorf("gateways.http.rate_limit values must not be negative")
		}
	}
	return nil
}

// KillPolicySignals returns the parsed timeout and exit signals. Validation
// has already checked that both parse, so errors here are impossible after
// Load.
func (e *ExecutorConfig) KillPolicySignals() (onTimeout, onExit *signals.Signal) {
	onTimeout, _ = e.KillOnTimeout.Parsed()
	onExit, _ = e.KillOnExit.Parsed()
	return onTimeout, onExit
}
