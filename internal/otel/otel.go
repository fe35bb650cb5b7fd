package otel

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reqid"
)

// Setup configures OpenTelemetry and attaches subscribers to bus.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string, bus *eventbus.Bus) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	Register(bus, otel.Tracer("graphcache"))
	return tp.Shutdown, nil
}

// Register turns the events published on bus into spans of tracer. It
// returns a function that detaches the subscribers.
func Register(bus *eventbus.Bus, tracer trace.Tracer) (unregister func()) {
	s := &subscriber{tracer: tracer, notifySpans: map[ulid.ULID][]trace.Span{}}
	return s.register(bus)
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span

	mu sync.Mutex
	// Notify calls nest when subscription callbacks write to the store.
	notifySpans map[ulid.ULID][]trace.Span
}

func (s *subscriber) parent(ctx context.Context) context.Context {
	rid, ok := reqid.FromContext(ctx)
	if !ok {
		return ctx
	}
	if span := s.currentNotify(rid); span != nil {
		return trace.ContextWithSpan(ctx, span)
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) currentNotify(rid ulid.ULID) trace.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack := s.notifySpans[rid]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (s *subscriber) pushNotify(rid ulid.ULID, span trace.Span) {
	s.mu.Lock()
	s.notifySpans[rid] = append(s.notifySpans[rid], span)
	s.mu.Unlock()
}

func (s *subscriber) popNotify(rid ulid.ULID) trace.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack := s.notifySpans[rid]
	if len(stack) == 0 {
		return nil
	}
	span := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(s.notifySpans, rid)
	} else {
		s.notifySpans[rid] = stack[:len(stack)-1]
	}
	return span
}

// event records a point-in-time operation as an instant span.
func (s *subscriber) event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	_, span := s.tracer.Start(s.parent(ctx), name, trace.WithAttributes(attrs...))
	span.End()
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				semconv.HTTPRouteKey.String(e.Route),
				attribute.String("http.target", e.Request.URL.Path),
			)
			s.httpSpans.Store(rid, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.httpSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			span.End()
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.StoreNotifyStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx), "store.notify")
			span.SetAttributes(
				attribute.String("store.id", e.Store),
				attribute.String("store.source_operation", e.SourceOperation),
				attribute.Int("store.updated_records", e.UpdatedRecords),
				attribute.Bool("store.invalidate", e.InvalidateStore),
			)
			s.pushNotify(rid, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.StoreNotifyFinish) {
			rid, _ := reqid.FromContext(ctx)
			span := s.popNotify(rid)
			if span == nil {
				return
			}
			span.SetAttributes(
				attribute.StringSlice("store.updated_owners", e.UpdatedOwners),
				attribute.Int64("store.duration_us", e.Duration.Microseconds()),
			)
			span.End()
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.SubscriptionFired) {
			rid, _ := reqid.FromContext(ctx)
			span := s.currentNotify(rid)
			if span == nil {
				return
			}
			span.AddEvent("subscription.fired", trace.WithAttributes(
				attribute.String("subscription.id", e.Subscription),
				attribute.String("subscription.owner", e.Owner),
			))
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.StorePublish) {
			s.event(ctx, "store.publish",
				attribute.String("store.id", e.Store),
				attribute.Int("store.records", e.Records),
				attribute.Int("store.invalidated", e.Invalidated),
				attribute.Bool("store.optimistic", e.Optimistic),
			)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.StoreCheck) {
			s.event(ctx, "store.check",
				attribute.String("store.id", e.Store),
				attribute.String("store.operation", e.Operation),
				attribute.String("store.status", e.Status),
			)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.LiveUpdate) {
			s.event(ctx, "store.live_update",
				attribute.String("store.id", e.Store),
				attribute.Int("store.records", e.Records),
			)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.StoreSnapshot) {
			s.event(ctx, "store.snapshot", attribute.String("store.id", e.Store))
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.StoreRestore) {
			s.event(ctx, "store.restore", attribute.String("store.id", e.Store))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
