// Package observability implements the tracing/scoring wrapper around
// LLM calls described in spec.md §3 and §4.1. Every method on Observer
// must never throw — failures are logged once and swallowed (spec.md
// §9 "Observer singleton with 'never throws' contract").
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

// Observer is the capability interface stages use to trace and score
// LLM extraction attempts (spec.md §4.1).
type Observer interface {
	StartGeneration(ctx context.Context, name string, attrs map[string]string) (context.Context, Generation)
	Flush()
}

// Generation is a single started trace span, ended exactly once.
type Generation interface {
	EndGeneration(ctx context.Context, output string, err error)
	Score(ctx context.Context, name string, value float64)
}

// otelObserver implements Observer on top of an OpenTelemetry tracer.
// Disabling observability (spec.md §6.4 OBSERVABILITY_ENABLED=false)
// and any internal tracer failure must be indistinguishable, from the
// stage's point of view, from a normal run (spec.md §8.1 "Silent
// observability" property) — so every method here recovers from panics
// and logs-and-swallows errors instead of propagating them.
type otelObserver struct {
	tracer  trace.Tracer
	enabled bool
	log     *zap.Logger

	mu       sync.Mutex
	flushers []func()
}

// New builds an Observer. When enabled is false, it still returns a
// fully functional Observer whose spans are simply never exported
// (the noop global tracer provider), giving callers a single code path
// regardless of configuration.
func New(enabled bool, log *zap.Logger) Observer {
	return &otelObserver{
		tracer:  otel.Tracer("invoice-pipeline/extraction"),
		enabled: enabled,
		log:     log,
	}
}

func (o *otelObserver) StartGeneration(ctx context.Context, name string, attrs map[string]string) (resultCtx context.Context, gen Generation) {
	defer func() {
		if r := recover(); r != nil {
			o.logSwallow("StartGeneration", nil, r)
			resultCtx = ctx
			gen = noopGeneration{}
		}
	}()

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}

	spanCtx, span := o.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
	return spanCtx, &otelGeneration{span: span, log: o.log}
}

func (o *otelObserver) Flush() {
	defer func() {
		if r := recover(); r != nil {
			o.logSwallow("Flush", nil, r)
		}
	}()
	o.mu.Lock()
	flushers := append([]func(){}, o.flushers...)
	o.mu.Unlock()
	for _, f := range flushers {
		f()
	}
}

func (o *otelObserver) logSwallow(op string, err error, panicVal interface{}) {
	oe := schema.NewObservabilityError(op, "observer call failed", err)
	if panicVal != nil && o.log != nil {
		o.log.Error("observability error", zap.String("op", op), zap.Any("panic", panicVal))
		return
	}
	if o.log != nil {
		o.log.Error("observability error", zap.Error(oe))
	}
}

type otelGeneration struct {
	span trace.Span
	log  *zap.Logger
}

func (g *otelGeneration) EndGeneration(ctx context.Context, output string, err error) {
	defer func() {
		if r := recover(); r != nil && g.log != nil {
			g.log.Error("observability error", zap.String("op", "EndGeneration"), zap.Any("panic", r))
		}
	}()
	if err != nil {
		g.span.RecordError(err)
		g.span.SetStatus(codes.Error, err.Error())
	} else {
		g.span.SetStatus(codes.Ok, "")
	}
	if output != "" {
		g.span.SetAttributes(attribute.Int("output.length", len(output)))
	}
	g.span.End()
}

func (g *otelGeneration) Score(ctx context.Context, name string, value float64) {
	defer func() {
		if r := recover(); r != nil && g.log != nil {
			g.log.Error("observability error", zap.String("op", "Score"), zap.Any("panic", r))
		}
	}()
	g.span.SetAttributes(attribute.Float64("score."+name, value))
}

// noopGeneration is returned whenever StartGeneration itself fails, so
// callers never need a nil check.
type noopGeneration struct{}

func (noopGeneration) EndGeneration(context.Context, string, error) {}
func (noopGeneration) Score(context.Context, string, float64)       {}
