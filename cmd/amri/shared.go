package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jkaninda/amri/internal/config"
	"github.com/jkaninda/amri/internal/executor"
	"github.com/jkaninda/amri/internal/launcher"
	"github.com/jkaninda/amri/internal/shellenv"
	goutils "github.com/jkaninda/go-utils"
)

// runtime holds the pieces every mode needs to launch shells: the
// launcher, the resolved launch spec, and the kill policy.
type runtime struct {
	launcher *launcher.Launcher
	spec     launcher.Spec
	kill     executor.KillPolicy
}

// buildRuntime resolves the shell environment and assembles the launch
// spec from config.
func buildRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	env, err := shellenv.Resolve(cfg.Env.Vars, cfg.Env.Reset, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("resolving shell environment: %w", err)
	}

	spec := launcher.Spec{
		ShellPath: cfg.Shell.ShellPath(),
		Dir:       cfg.Shell.Workdir,
		Login:     cfg.Shell.Login,
		Env:       env,
		Delivery:  cfg.Shell.EnvDelivery(),
	}
	if cfg.Shell.SwitchesUser() {
		spec.Privilege = launcher.Privilege{
			User:   cfg.Shell.User,
			SuPath: cfg.Shell.WrapperPath(),
		}
	}

	onTimeout, onExit := cfg.Executor.KillPolicySignals()

	logger.Debug("shell runtime assembled",
		slog.String("shell", spec.ShellPath),
		slog.Bool("login", spec.Login),
		slog.Bool("switches_user", cfg.Shell.SwitchesUser()),
		slog.String("delivery", string(spec.Delivery)),
		slog.Int("env_vars", len(env.Entries())),
	)

	return &runtime{
		launcher: launcher.New(logger),
		spec:     spec,
		kill:     executor.KillPolicy{OnTimeout: onTimeout, OnExit: onExit},
	}, nil
}

// newLogger builds the JSON logger all modes share.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig reads the config file named by the AMRI_CONFIG env var or
// the --config flag. When the default path does not exist, it falls back
// to the built-in defaults so that local one-shot use needs no file.
func loadConfig(flagPath string) (*config.Config, error) {
	path := goutils.Env("AMRI_CONFIG", flagPath)
	if _, err := os.Stat(path); os.IsNotExist(err) && path == config.DefaultConfigPath() {
		return config.Default()
	}
	return config.Load(path)
}
