package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jkaninda/amri/internal/launcher"
)

// ErrSessionClosed reports that the persistent shell behind a session has
// exited or been shut down. The condition is terminal: callers must start a
// new session.
var ErrSessionClosed = errors.New("interactive session closed")

// DefaultQuiescence is the output-settle window used when a session config
// does not set one. Once a request has produced output, collection ends
// after this long with no further bytes.
const DefaultQuiescence = 500 * time.Millisecond

// SessionConfig tunes a persistent shell session.
type SessionConfig struct {
	// InitialInput is written to the shell right after launch, before the
	// session accepts requests. Typically prompt or tracing setup.
	InitialInput string
	// Quiescence is the silence window that ends output collection once a
	// request has produced at least one chunk. Zero means DefaultQuiescence.
	Quiescence time.Duration
	// DefaultTimeout bounds requests that do not carry their own deadline.
	DefaultTimeout time.Duration
}

// Session is one persistent shell shared by consecutive requests. Requests
// are serialized: each takes exclusive ownership of the shell's merged
// output stream for its duration, and between requests a background drain
// discards whatever the shell emits on its own.
type Session struct {
	handle     *launcher.Handle
	kill       KillPolicy
	quiescence time.Duration
	defTimeout time.Duration
	logger     *slog.Logger

	mu          sync.Mutex // serializes Run
	stopDrain   chan struct{}
	drainDone   chan struct{}
	observeKill KillObserver

	dead      atomic.Bool
	closeOnce sync.Once
}

// StartSession launches spec once and wraps it in a Session. The initial
// input, if any, is delivered before the first request can run; its output
// is discarded by the background drain.
func StartSession(l *launcher.Launcher, spec launcher.Spec, cfg SessionConfig, kill KillPolicy, logger *slog.Logger) (*Session, error) {
	// The initial input must end in a newline, or its last line stays
	// buffered in the shell and the first request concatenates onto it.
	initial := cfg.InitialInput
	if initial != "" && !strings.HasSuffix(initial, "\n") {
		initial += "\n"
	}
	h, err := l.Launch(initial, spec)
	if err != nil {
		return nil, fmt.Errorf("launching session shell: %w", err)
	}
	quiescence := cfg.Quiescence
	if quiescence <= 0 {
		quiescence = DefaultQuiescence
	}
	s := &Session{
		handle:     h,
		kill:       kill,
		quiescence: quiescence,
		defTimeout: cfg.DefaultTimeout,
		logger:     logger,
	}
	logger.Debug("session started", slog.Int("pid", h.PID()))
	s.startDrain()
	return s, nil
}

// PID returns the session shell's process ID.
func (s *Session) PID() int { return s.handle.PID() }

// Alive reports whether the session shell is still running.
func (s *Session) Alive() bool { return !s.dead.Load() }

// WithKillObserver registers fn to be called after each delivered kill
// signal.
func (s *Session) WithKillObserver(fn KillObserver) *Session {
	s.observeKill = fn
	return s
}

func (s *Session) startDrain() {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopDrain = stop
	s.drainDone = done
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case chunk, ok := <-s.handle.Output():
				if !ok {
					s.dead.Store(true)
					return
				}
				s.logger.Debug("discarding idle session output", slog.Int("bytes", len(chunk)))
			}
		}
	}()
}

// acquire hands the output stream from the background drain to the caller.
// The send handshake guarantees the drain goroutine has stopped reading
// before acquire returns true. False means the shell already exited.
func (s *Session) acquire() bool {
	select {
	case s.stopDrain <- struct{}{}:
		return true
	case <-s.drainDone:
		return false
	}
}

// Run writes input to the session shell as one line and collects the output
// it provokes. Collection ends when the shell goes quiet after producing
// output, or when the request deadline expires before any output appears.
// Whatever was collected is returned even on timeout or cancellation.
func (s *Session) Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.defTimeout
	}
	if !s.acquire() {
		return nil, ErrSessionClosed
	}
	defer s.startDrain()

	guard := ArmGuard(timeout, s.handle.PID(), policySignal(s.kill.OnTimeout))
	defer guard.Disarm()

	if err := s.handle.WriteLine(input); err != nil {
		return nil, fmt.Errorf("writing session input: %w", err)
	}

	var buf bytes.Buffer
	sawOutput := false
	for {
		select {
		case chunk, ok := <-s.handle.Output():
			if !ok {
				s.dead.Store(true)
				return buf.Bytes(), ErrSessionClosed
			}
			buf.Write(chunk)
			sawOutput = true
			guard.Rearm(s.quiescence)

		case kr := <-guard.Expired():
			if !sawOutput && s.kill.OnTimeout != nil {
				// Only the original request deadline kills: quiescence
				// expiry after output is the normal end of collection.
				if err := Terminate(kr.Signal, kr.PID); err != nil {
					s.logger.Error("session timeout kill failed", slog.String("error", err.Error()))
				} else {
					s.observeKill.observe(kr.Signal)
				}
			}
			return buf.Bytes(), nil

		case <-ctx.Done():
			if s.kill.OnExit != nil {
				if err := Terminate(*s.kill.OnExit, s.handle.PID()); err != nil {
					s.logger.Error("session cancellation kill failed", slog.String("error", err.Error()))
				} else {
					s.observeKill.observe(*s.kill.OnExit)
				}
			}
			return buf.Bytes(), ctx.Err()
		}
	}
}

// Close tears the session down, delivering the configured exit signal to
// the shell's process group if one is set. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.dead.Store(true)
		if s.kill.OnExit != nil {
			if err := Terminate(*s.kill.OnExit, s.handle.PID()); err != nil {
				s.logger.Error("session shutdown kill failed", slog.String("error", err.Error()))
			} else {
				s.observeKill.observe(*s.kill.OnExit)
			}
		}
		_ = s.handle.Close()
	})
	return nil
}
