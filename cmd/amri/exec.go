package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/amri/internal/config"
	"github.com/jkaninda/amri/internal/executor"
	"github.com/jkaninda/amri/internal/signals"
)

var (
	execConfigPath     string
	execTimeoutSeconds int
	execQuiet          bool
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- command...",
	Short: "Run one command in a fresh, isolated shell",
	Long: `Run a single command in a fresh shell and print its merged output.
The process exits with the command's exit status. A status above 128
means the command died from a signal; the signal name is reported on
stderr.

Examples:
  amri exec -- 'uname -a'
  amri exec --timeout 5 -- 'sleep 60'
  AMRI_SHELL=/bin/bash amri exec -- 'echo $BASH_VERSION'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	execCmd.Flags().IntVar(&execTimeoutSeconds, "timeout", 0, "deadline in seconds (0 = config default)")
	execCmd.Flags().BoolVar(&execQuiet, "quiet", false, "suppress the status line on stderr")
}

func runExec(_ *cobra.Command, args []string) error {
	logger := newLogger(slog.LevelWarn)

	cfg, err := loadConfig(execConfigPath)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := executor.NewIsolated(rt.launcher, rt.spec, rt.kill, cfg.Executor.Timeout(), logger)

	res, err := runner.Execute(ctx, executor.Request{
		Command: strings.Join(args, " "),
		Timeout: time.Duration(execTimeoutSeconds) * time.Second,
	})
	if err != nil {
		if res != nil {
			os.Stdout.Write(res.Output)
		}
		return err
	}

	os.Stdout.Write(res.Output)

	if !execQuiet && res.Status != 0 {
		fmt.Fprintf(os.Stderr, "[status=%s timed_out=%t duration=%s]\n",
			signals.RenderStatus(res.Status), res.TimedOut, res.Duration.Round(time.Millisecond))
	}
	if res.Status != 0 {
		os.Exit(res.Status & 0xff)
	}
	return nil
}
