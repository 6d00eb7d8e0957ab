// Package httpapi implements the HTTP API gateway for Amri.
//
// Security:
//   - Bearer token authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/amri/internal/executor"
	"github.com/jkaninda/amri/internal/observability"
	"github.com/jkaninda/amri/internal/ratelimit"
	"github.com/jkaninda/amri/internal/signals"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Session is the interactive shell surface the gateway exposes.
type Session interface {
	Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error)
	Alive() bool
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIToken       string // Bearer token. Empty = unauthenticated.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	runner  executor.Runner
	session Session // nil = interactive mode disabled.
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket session endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway serving the isolated executor.
func NewGateway(cfg Config, runner executor.Runner, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		runner:  runner,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithSession attaches the interactive session to the gateway.
func (g *Gateway) WithSession(s Session) *Gateway {
	g.session = s
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket session endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// WithOpenAPIDocs enables the generated API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Amri",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Body size limit (applied globally).
	limit := g.config.MaxRequestSize
	if limit <= 0 {
		limit = defaultMaxRequestSize
	}
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return limitRequestBody(limit, next)
	})

	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/exec", g.handleExec,
		okapi.DocSummary("Run a command in a fresh shell"),
		okapi.DocTags("Exec"),
		okapi.DocRequestBody(ExecRequest{}),
		okapi.DocResponse(ExecResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/exec/raw", g.handleExecRaw,
		okapi.DocSummary("Run a command in a fresh shell and return its output"),
		okapi.DocTags("Exec"),
		okapi.DocRequestBody(ExecRequest{}),
		okapi.DocResponse(ExecRawResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/session", g.handleSession,
		okapi.DocSummary("Run a command in the persistent interactive shell"),
		okapi.DocTags("Session"),
		okapi.DocRequestBody(SessionRequest{}),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Extra handlers (e.g., WebSocket session endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ExecRequest is the JSON body for POST /v1/exec and /v1/exec/raw.
type ExecRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // 0 = server default.
}

// ExecResponse is the JSON response for POST /v1/exec. The command's output
// goes to the server log, not the response.
type ExecResponse struct {
	InvocationID  string `json:"invocation_id"`
	Status        string `json:"status"` // Exit code, or signal name for signal deaths.
	TimedOut      bool   `json:"timed_out"`
	DurationMs    int64  `json:"duration_ms"`
	CorrelationID string `json:"correlation_id"`
}

// ExecRawResponse is the JSON response for POST /v1/exec/raw.
type ExecRawResponse struct {
	InvocationID  string `json:"invocation_id"`
	Status        string `json:"status"`
	Output        string `json:"output"`
	TimedOut      bool   `json:"timed_out"`
	DurationMs    int64  `json:"duration_ms"`
	CorrelationID string `json:"correlation_id"`
}

func (g *Gateway) handleExec(c *okapi.Context) error {
	res, correlationID, err := g.execute(c)
	if err != nil || res == nil {
		return err
	}

	status := signals.RenderStatus(res.Status)
	// The merged output is a side channel here: surfaced through the log,
	// at a level chosen by the exit status.
	attrs := []any{
		slog.String("invocation_id", res.InvocationID),
		slog.String("correlation_id", correlationID),
		slog.String("status", status),
		slog.String("output", string(res.Output)),
	}
	if res.Status == 0 {
		g.logger.Debug("command output", attrs...)
	} else {
		g.logger.Error("command output", attrs...)
	}

	return c.OK(ExecResponse{
		InvocationID:  res.InvocationID,
		Status:        status,
		TimedOut:      res.TimedOut,
		DurationMs:    res.Duration.Milliseconds(),
		CorrelationID: correlationID,
	})
}

func (g *Gateway) handleExecRaw(c *okapi.Context) error {
	res, correlationID, err := g.execute(c)
	if err != nil || res == nil {
		return err
	}

	return c.OK(ExecRawResponse{
		InvocationID:  res.InvocationID,
		Status:        signals.RenderStatus(res.Status),
		Output:        string(res.Output),
		TimedOut:      res.TimedOut,
		DurationMs:    res.Duration.Milliseconds(),
		CorrelationID: correlationID,
	})
}

// execute runs the shared request path for both exec endpoints. A nil result
// with a nil error means the response has already been written.
func (g *Gateway) execute(c *okapi.Context) (*executor.Result, string, error) {
	client := clientKey(c)
	if g.limiter != nil {
		if err := g.limiter.Allow(client); err != nil {
			return nil, "", c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ExecRequest
	if err := c.Bind(&req); err != nil {
		return nil, "", c.AbortBadRequest("command is required")
	}
	if req.Command == "" {
		return nil, "", c.AbortBadRequest("command is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http exec",
		slog.String("client", client),
		slog.String("correlation_id", correlationID),
		slog.Int("command_bytes", len(req.Command)),
	)

	res, err := g.runner.Execute(c.Context(), executor.Request{
		Command: req.Command,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		g.logger.Error("exec failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return nil, "", c.AbortInternalServerError("execution failed")
	}
	return res, correlationID, nil
}

// SessionRequest is the JSON body for POST /v1/session.
type SessionRequest struct {
	Input          string `json:"input"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // 0 = server default.
}

// SessionResponse is the JSON response for POST /v1/session.
type SessionResponse struct {
	Output        string `json:"output"`
	CorrelationID string `json:"correlation_id"`
}

func (g *Gateway) handleSession(c *okapi.Context) error {
	if g.session == nil {
		return c.JSON(http.StatusConflict, okapi.M{"error": "interactive mode is not enabled"})
	}

	client := clientKey(c)
	if g.limiter != nil {
		if err := g.limiter.Allow(client); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("input is required")
	}
	if req.Input == "" {
		return c.AbortBadRequest("input is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http session input",
		slog.String("client", client),
		slog.String("correlation_id", correlationID),
	)

	out, err := g.session.Run(c.Context(), req.Input, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, executor.ErrSessionClosed) {
			return c.AbortServiceUnavailable("interactive session has exited")
		}
		g.logger.Error("session input failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("session input failed")
	}

	return c.OK(SessionResponse{
		Output:        string(out),
		CorrelationID: correlationID,
	})
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer token. With no token configured the API
// is open, for local use behind a firewall.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIToken == "" {
			return next(c)
		}
		token, ok := bearerToken(c.Header("Authorization"))
		if !ok {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.config.APIToken)) != 1 {
			return c.AbortUnauthorized("invalid API token")
		}
		return next(c)
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

// limitRequestBody caps request bodies so a caller cannot stream an
// unbounded command payload. Reads past the limit fail, which surfaces as a
// bind error on the JSON endpoints.
func limitRequestBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

// clientKey identifies a client for rate limiting: the remote host.
func clientKey(c *okapi.Context) string {
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
