package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/amri/internal/config"
	"github.com/jkaninda/amri/internal/executor"
	"github.com/jkaninda/amri/internal/gateway"
	"github.com/jkaninda/amri/internal/gateway/cli"
	"github.com/jkaninda/amri/internal/gateway/httpapi"
	"github.com/jkaninda/amri/internal/gateway/ws"
	"github.com/jkaninda/amri/internal/observability"
	"github.com/jkaninda/amri/internal/ratelimit"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start in server mode (HTTP, WebSocket, CLI)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `amri --config path` and `amri serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Amri in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelInfo)

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (nil when the config section is absent).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	if obs != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}()
	}

	// Isolated executor, one fresh shell per request.
	isolated := executor.NewIsolated(rt.launcher, rt.spec, rt.kill, cfg.Executor.Timeout(), logger)
	var runner executor.Runner = isolated
	if obs != nil {
		if obs.Metrics != nil {
			isolated.WithKillObserver(obs.Metrics.ObserveKill)
		}
		runner = observability.NewInstrumentedRunner(runner, obs.Metrics, obs.Tracer)
	}

	// Interactive session, one persistent shell (optional).
	var session sessionSurface
	if cfg.Executor.InteractiveEnabled() {
		s, err := executor.StartSession(rt.launcher, rt.spec, executor.SessionConfig{
			InitialInput:   cfg.Executor.Interactive.InitialInput,
			Quiescence:     cfg.Executor.Quiescence(),
			DefaultTimeout: cfg.Executor.Timeout(),
		}, rt.kill, logger)
		if err != nil {
			return fmt.Errorf("starting interactive session: %w", err)
		}
		defer s.Close()

		session = s
		if obs != nil {
			if obs.Metrics != nil {
				s.WithKillObserver(obs.Metrics.ObserveKill)
			}
			session = observability.NewInstrumentedSession(s, obs.Metrics, obs.Tracer)
		}
		logger.Info("interactive session started", slog.Int("pid", s.PID()))
	}

	// Health checks.
	if obs != nil && obs.Health != nil && cfg.Observability.Health != nil {
		hc := cfg.Observability.Health
		if hc.IncludeShell {
			obs.Health.AddCheck("shell", observability.ShellCheck(cfg.Shell.ShellPath()))
		}
		if hc.IncludeSession && session != nil {
			obs.Health.AddCheck("session", observability.SessionCheck(session.Alive))
		}
	}

	// Build enabled gateways.
	gateways, err := buildGateways(cfg, obs, runner, session, logger)
	if err != nil {
		return err
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// sessionSurface is what every gateway needs from the interactive session.
type sessionSurface interface {
	Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error)
	Alive() bool
}

// buildGateways creates all enabled gateways from config.
func buildGateways(cfg *config.Config, obs *observability.Observability, runner executor.Runner, session sessionSurface, logger *slog.Logger) ([]gateway.Gateway, error) {
	var gws []gateway.Gateway
	gwCfg := cfg.Gateways

	// Default to CLI if no gateways section configured.
	hasAnyGateway := gwCfg.CLI != nil || gwCfg.HTTP != nil || gwCfg.WebSocket != nil
	if !hasAnyGateway {
		if session == nil {
			return nil, fmt.Errorf("no gateways enabled and executor.interactive is disabled, nothing to serve")
		}
		gws = append(gws, cli.NewGateway(session, logger))
		logger.Debug("gateway enabled", slog.String("type", "cli"), slog.String("reason", "default"))
		return gws, nil
	}

	// CLI gateway.
	if gwCfg.CLI != nil && gwCfg.CLI.Enabled {
		if session == nil {
			return nil, fmt.Errorf("gateways.cli requires executor.interactive to be enabled")
		}
		gws = append(gws, cli.NewGateway(session, logger))
		logger.Debug("gateway enabled", slog.String("type", "cli"))
	}

	// HTTP API gateway.
	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: gwCfg.HTTP.RateLimit.RequestsPerMinute,
			BurstSize:         gwCfg.HTTP.RateLimit.BurstSize,
		})

		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIToken:       gwCfg.HTTP.APIToken,
			MaxRequestSize: gwCfg.HTTP.MaxRequestSize(),
		}
		if obs != nil {
			httpCfg.Metrics = obs.Metrics
			httpCfg.HealthChecker = obs.Health
			if obs.Metrics != nil {
				httpCfg.MetricsRegistry = obs.Metrics.Registry
			}
			if obs.Tracer != nil {
				httpCfg.Tracer = obs.Tracer.Tracer()
			}
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		httpGW := httpapi.NewGateway(httpCfg, runner, limiter, logger)
		if session != nil {
			httpGW.WithSession(session)
		}

		// Mount the WebSocket session endpoint on the HTTP gateway.
		// Validation guarantees both interactive mode and the HTTP
		// gateway are enabled when websocket is.
		if gwCfg.WebSocket != nil && gwCfg.WebSocket.Enabled {
			wsPath := gwCfg.WebSocket.WSPath()
			wsServer := ws.NewServer(session, gwCfg.HTTP.APIToken, logger)
			httpGW.WithHandler(wsPath, wsServer.Handler())
			logger.Debug("websocket session endpoint mounted", slog.String("path", wsPath))
		}

		gws = append(gws, httpGW)
		logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", gwCfg.HTTP.Addr()),
			slog.Bool("session", session != nil),
			slog.Bool("websocket", gwCfg.WebSocket != nil && gwCfg.WebSocket.Enabled),
		)
	}

	if len(gws) == 0 {
		return nil, fmt.Errorf("no gateways enabled in config")
	}
	return gws, nil
}
