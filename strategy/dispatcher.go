package strategy

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/always-cache/sw-cache/strategy"

// Dispatcher selects the strategy for each request and invokes it.
type Dispatcher struct {
	selector   *Selector
	strategies map[Kind]Strategy
	tracer     trace.Tracer
}

func NewDispatcher(selector *Selector, strategies map[Kind]Strategy) *Dispatcher {
	return &Dispatcher{
		selector:   selector,
		strategies: strategies,
		tracer:     otel.Tracer(tracerName),
	}
}

// New builds the dispatcher with the three standard strategies.
func New(env Env, selector *Selector, offlinePage string) (*Dispatcher, *CacheFirst) {
	cacheFirst := NewCacheFirstWithRefresh(env)
	return NewDispatcher(selector, map[Kind]Strategy{
		NetworkFirstWithFallback: NewNetworkFirstWithFallback(env, offlinePage),
		NetworkFirstWithCache:    NewNetworkFirstWithCache(env),
		CacheFirstWithRefresh:    cacheFirst,
	}), cacheFirst
}

func (d *Dispatcher) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	kind := d.selector.Select(r)
	ctx, span := d.tracer.Start(ctx, "strategy."+kind.String(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", r.URL.String()),
			attribute.String("sw.strategy", kind.String()),
		),
	)
	defer span.End()

	strategy, ok := d.strategies[kind]
	if !ok {
		strategy = d.strategies[NetworkFirstWithCache]
	}
	res, err := strategy.Handle(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("sw.source", string(res.Source)),
		attribute.Bool("sw.stored", res.Stored),
		attribute.Int("http.response.status_code", res.StatusCode),
	)
	return res, nil
}
