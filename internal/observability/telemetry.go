package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/tilesync/internal/config"
	"github.com/annel0/tilesync/internal/logging"
)

// ShutdownFunc завершает экспорт трейсов
type ShutdownFunc func(context.Context) error

const shutdownTimeout = 5 * time.Second

// InitTelemetry настраивает OTLP HTTP экспортер и глобальный TracerProvider.
// Endpoint берётся из стандартных OTEL_EXPORTER_OTLP_* (по умолчанию localhost:4318).
// Если телеметрия выключена, глобальный провайдер остаётся no-op.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig, sessionID string) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(ctx, cfg.ServiceName, sessionID)
	if err != nil {
		return nil, err
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	logging.Info("📡 OpenTelemetry: service=%s session=%s sample=%.2f", cfg.ServiceName, sessionID, cfg.SampleRatio)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func newResource(ctx context.Context, service, sessionID string) (*resource.Resource, error) {
	if service == "" {
		service = "tilesync"
	}
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			attribute.String("service.instance.id", sessionID),
		),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
}

// newSampler: 1 и выше пишет всё, 0 и ниже ничего; дочерние спаны следуют родителю
func newSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
