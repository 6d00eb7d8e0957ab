package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/amri/internal/config"
	"github.com/jkaninda/amri/internal/executor"
	"github.com/jkaninda/amri/internal/gateway/cli"
)

var shellConfigPath string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open a local interactive session against one persistent shell",
	Long: `Start one persistent shell and feed it lines typed at the prompt.
State set by one line (variables, the working directory) is visible to
the next. Type "exit" to quit.`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runShell(_ *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelWarn)

	cfg, err := loadConfig(shellConfigPath)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionCfg := executor.SessionConfig{
		Quiescence:     cfg.Executor.Quiescence(),
		DefaultTimeout: cfg.Executor.Timeout(),
	}
	if cfg.Executor.Interactive != nil {
		sessionCfg.InitialInput = cfg.Executor.Interactive.InitialInput
	}

	session, err := executor.StartSession(rt.launcher, rt.spec, sessionCfg, rt.kill, logger)
	if err != nil {
		return fmt.Errorf("starting interactive session: %w", err)
	}
	defer session.Close()

	return cli.NewGateway(session, logger).Start(ctx)
}
