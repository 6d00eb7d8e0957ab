package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/amri/internal/launcher"
)

// Request is one command to run in a fresh shell.
type Request struct {
	// Command is the shell text to execute. It may span multiple lines.
	Command string
	// Timeout bounds the invocation; zero falls back to the executor's
	// default, and a negative value disables the deadline entirely.
	Timeout time.Duration
}

// Result is the outcome of a finished invocation. Output is the merged
// stdout/stderr byte stream, complete up to process exit.
type Result struct {
	InvocationID string
	Status       int
	Output       []byte
	TimedOut     bool
	Duration     time.Duration
}

// Runner executes one command and reports its outcome. Both the isolated
// executor and its instrumented wrappers satisfy it.
type Runner interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Isolated runs every request in its own shell process: launch, feed the
// command, collect merged output until the process exits, report status.
// Nothing is shared between invocations, so they may run concurrently.
type Isolated struct {
	launcher       *launcher.Launcher
	spec           launcher.Spec
	kill           KillPolicy
	defaultTimeout time.Duration
	logger         *slog.Logger
	observeKill    KillObserver
}

// NewIsolated builds an isolated executor. Every Execute call launches spec
// afresh; defaultTimeout applies to requests that do not carry their own.
func NewIsolated(l *launcher.Launcher, spec launcher.Spec, kill KillPolicy, defaultTimeout time.Duration, logger *slog.Logger) *Isolated {
	return &Isolated{
		launcher:       l,
		spec:           spec,
		kill:           kill,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// WithKillObserver registers fn to be called after each delivered kill
// signal.
func (e *Isolated) WithKillObserver(fn KillObserver) *Isolated {
	e.observeKill = fn
	return e
}

// Execute runs req in a fresh shell and blocks until the shell exits. The
// returned Result always carries the full output observed before exit, even
// on timeout or cancellation. A non-nil error is returned only for launch
// failures and for external cancellation; a nonzero exit status is not an
// error.
func (e *Isolated) Execute(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}

	h, err := e.launcher.Launch(req.Command+"\nexit $?\n", e.spec)
	if err != nil {
		return nil, fmt.Errorf("launching shell: %w", err)
	}
	defer h.Close()

	id := uuid.NewString()
	start := time.Now()
	e.logger.Debug("invocation started",
		slog.String("invocation_id", id),
		slog.Int("pid", h.PID()),
		slog.Duration("timeout", timeout),
	)

	var guard *Guard
	expired := (<-chan KillRequest)(nil)
	if timeout > 0 {
		guard = ArmGuard(timeout, h.PID(), policySignal(e.kill.OnTimeout))
		defer guard.Disarm()
		expired = guard.Expired()
	}

	var (
		buf      bytes.Buffer
		timedOut bool
		ctxErr   error
	)
	out := h.Output()
	done := ctx.Done()
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			buf.Write(chunk)

		case kr := <-expired:
			timedOut = true
			if e.kill.OnTimeout != nil {
				if err := Terminate(kr.Signal, kr.PID); err != nil {
					e.logger.Error("timeout kill failed",
						slog.String("invocation_id", id),
						slog.String("error", err.Error()),
					)
				} else {
					e.observeKill.observe(kr.Signal)
				}
			} else {
				e.logger.Warn("invocation exceeded timeout, no kill signal configured",
					slog.String("invocation_id", id),
				)
			}

		case <-done:
			done = nil
			ctxErr = ctx.Err()
			e.logger.Debug("invocation canceled, draining until exit",
				slog.String("invocation_id", id),
			)
			if e.kill.OnExit != nil {
				if err := Terminate(*e.kill.OnExit, h.PID()); err != nil {
					e.logger.Error("cancellation kill failed",
						slog.String("invocation_id", id),
						slog.String("error", err.Error()),
					)
				} else {
					e.observeKill.observe(*e.kill.OnExit)
				}
			}

		case status := <-h.Exited():
			// The output channel is closed by the time the exit status is
			// published, but buffered chunks may still be queued.
			if out != nil {
				for chunk := range out {
					buf.Write(chunk)
				}
			}
			res := &Result{
				InvocationID: id,
				Status:       status,
				Output:       buf.Bytes(),
				TimedOut:     timedOut,
				Duration:     time.Since(start),
			}
			e.logger.Debug("invocation finished",
				slog.String("invocation_id", id),
				slog.Int("status", status),
				slog.Bool("timed_out", timedOut),
				slog.Duration("duration", res.Duration),
			)
			if ctxErr != nil {
				return res, ctxErr
			}
			return res, nil
		}
	}
}
