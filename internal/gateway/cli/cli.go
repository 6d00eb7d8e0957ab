// Package cli implements an interactive CLI gateway for Amri. Lines typed
// at the prompt are fed to the persistent shell session and the provoked
// output is printed back.
package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/amri/internal/executor"
)

// Session is the interactive shell surface the REPL feeds.
type Session interface {
	Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error)
	Alive() bool
}

// Gateway is the interactive command-line interface.
type Gateway struct {
	session Session
	logger  *slog.Logger
	done    chan struct{} // closed by Stop to signal shutdown
}

// NewGateway creates a CLI gateway backed by the given session.
func NewGateway(session Session, logger *slog.Logger) *Gateway {
	return &Gateway{
		session: session,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Amri — shell command execution engine")
	fmt.Println("Lines are fed to one persistent shell. Type \"exit\" to quit.")
	fmt.Println()

	for {
		fmt.Print("amri> ")

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye.")
			return nil
		}

		correlationID := newCorrelationID()
		g.logger.DebugContext(ctx, "cli input",
			slog.String("correlation_id", correlationID),
		)

		out, err := g.session.Run(ctx, line, 0)
		if err != nil {
			if errors.Is(err, executor.ErrSessionClosed) {
				os.Stdout.Write(out)
				fmt.Println("The shell has exited.")
				return nil
			}
			g.logger.ErrorContext(ctx, "session input failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		os.Stdout.Write(out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// newCorrelationID generates a short random hex ID for request tracing.
func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
