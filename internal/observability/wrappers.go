package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/amri/internal/executor"
)

// --- InstrumentedRunner ---

// InstrumentedRunner wraps an executor.Runner with metrics and tracing.
type InstrumentedRunner struct {
	inner   executor.Runner
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedRunner wraps an isolated executor with observability.
func NewInstrumentedRunner(inner executor.Runner, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedRunner {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRunner{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (r *InstrumentedRunner) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "exec.isolated",
			trace.WithAttributes(
				attribute.Int("exec.command_bytes", len(req.Command)),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := r.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if r.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if result.Status != 0 {
		status = "nonzero_exit"
		if r.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.Int("exec.status", result.Status))
		}
	}

	if r.metrics != nil {
		r.metrics.ExecutionsTotal.WithLabelValues("isolated", status).Inc()
		r.metrics.ExecutionDuration.WithLabelValues("isolated").Observe(duration)
		if result != nil {
			r.metrics.OutputBytesTotal.WithLabelValues("isolated").Add(float64(len(result.Output)))
			if result.TimedOut {
				r.metrics.TimeoutsTotal.WithLabelValues("isolated").Inc()
			}
		}
	}

	return result, err
}

// --- InstrumentedSession ---

// SessionRunner is the subset of the interactive session the gateways use.
type SessionRunner interface {
	Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error)
	Alive() bool
}

// InstrumentedSession wraps an interactive session with metrics and tracing.
type InstrumentedSession struct {
	inner   SessionRunner
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSession wraps an interactive session with observability.
func NewInstrumentedSession(inner SessionRunner, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSession {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSession{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSession) Alive() bool { return s.inner.Alive() }

func (s *InstrumentedSession) Run(ctx context.Context, input string, timeout time.Duration) ([]byte, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "exec.interactive",
			trace.WithAttributes(
				attribute.Int("exec.command_bytes", len(input)),
			))
		defer span.End()
	}

	start := time.Now()
	out, err := s.inner.Run(ctx, input, timeout)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.ExecutionsTotal.WithLabelValues("interactive", status).Inc()
		s.metrics.ExecutionDuration.WithLabelValues("interactive").Observe(duration)
		s.metrics.OutputBytesTotal.WithLabelValues("interactive").Add(float64(len(out)))
	}

	return out, err
}

// --- Compile-time interface checks ---

var (
	_ executor.Runner = (*InstrumentedRunner)(nil)
	_ SessionRunner   = (*InstrumentedSession)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
