// Package telemetry wires OpenTelemetry tracing for the waitlist service and
// gives the queue packages a small span API tagged with restaurant and
// entry ids.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/valayash/qwaitfront"

const (
	RestaurantIDKey  = attribute.Key("waitlist.restaurant_id")
	EntryIDKey       = attribute.Key("waitlist.entry_id")
	ReservationIDKey = attribute.Key("waitlist.reservation_id")
)

type Config struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	// SampleRatio is the share of root traces kept. Child spans follow
	// their parent's decision.
	SampleRatio float64
}

type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs an OTLP gRPC tracer provider when an endpoint is
// configured. Without one tracing stays on the global no-op provider and the
// span helpers cost nothing.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) ShutdownFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otel exporter error", zap.Error(err))
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(cfg)...))
	if err != nil {
		logger.Warn("otel resource error", zap.Error(err))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio),
	)
	return provider.Shutdown
}

func serviceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return attrs
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// StartSpan opens a span for a waitlist operation on one restaurant.
func StartSpan(ctx context.Context, name, restaurantID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{RestaurantIDKey.String(restaurantID)}, attrs...)
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
