// Package ws exposes the interactive shell session over WebSocket. Each
// text frame carries one command; the reply frame carries the output that
// command provoked. Commands from all connections are serialized onto the
// single persistent shell.
package ws

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/amri/internal/executor"
)

// Session is the interactive shell surface served over WebSocket.
type Session interface {
	Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error)
	Alive() bool
}

// Server upgrades connections and relays frames to the session.
type Server struct {
	session Session
	token   string // Bearer/query token. Empty = unauthenticated.
	logger  *slog.Logger
}

// NewServer creates a WebSocket server for the given session.
func NewServer(session Session, token string, logger *slog.Logger) *Server {
	return &Server{
		session: session,
		token:   token,
		logger:  logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"amri-session-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn, r.RemoteAddr)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, remote string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	s.logger.Info("websocket session client connected", slog.String("remote", remote))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket client disconnected", slog.String("remote", remote))
			} else {
				s.logger.Warn("websocket connection error",
					slog.String("remote", remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if typ != websocket.MessageText {
			s.logger.Warn("ignoring non-text frame", slog.String("remote", remote))
			continue
		}
		input := string(data)
		if input == "" {
			continue
		}

		out, err := s.session.Run(ctx, input, 0)
		if err != nil {
			if errors.Is(err, executor.ErrSessionClosed) {
				// Terminal for the whole session, not just this client.
				conn.Close(websocket.StatusGoingAway, "interactive session has exited")
				return
			}
			s.logger.Error("session input failed",
				slog.String("remote", remote),
				slog.String("error", err.Error()),
			)
			conn.Close(websocket.StatusInternalError, "session input failed")
			return
		}

		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			s.logger.Warn("websocket write failed",
				slog.String("remote", remote),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
