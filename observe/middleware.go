package observe

import (
	"context"
	"time"
)

// RunFunc is an observed unit of work.
type RunFunc func(ctx context.Context) error

// Middleware wraps operations with tracing and logging.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer Tracer
	logger Logger
}

// NewMiddleware creates a Middleware. Nil arguments fall back to no-ops.
func NewMiddleware(tracer Tracer, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, logger: logger}
}

// MiddlewareFromObserver creates a Middleware bound to the observer's tracer and logger.
func MiddlewareFromObserver(obs Observer) *Middleware {
	return NewMiddleware(NewTracer(obs.Tracer()), obs.Logger())
}

// Run executes fn inside a span named after meta and logs the outcome.
// Successful runs log at debug so hot paths stay quiet at info.
func (m *Middleware) Run(ctx context.Context, meta OpMeta, fn RunFunc) error {
	if m == nil {
		return fn(ctx)
	}

	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)

	log := m.logger.WithOp(meta)
	fields := []Field{F("duration_ms", float64(duration.Milliseconds()))}
	if err != nil {
		fields = append(fields, F("error", err))
		log.Warn(ctx, "operation failed", fields...)
	} else {
		log.Debug(ctx, "operation completed", fields...)
	}

	return err
}
