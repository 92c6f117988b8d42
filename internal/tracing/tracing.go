// Package tracing настраивает OpenTelemetry. При выключенной телеметрии
// глобальный провайдер остаётся noop и внешних соединений нет.
package tracing

import (
	"context"
	"fmt"
	"runtime/debug"

	"explorer/internal/config"
	"explorer/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// Provider владеет TracerProvider SDK. Нулевое значение означает
// выключенную телеметрию.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init регистрирует глобальный TracerProvider с экспортом по OTLP/gRPC.
func Init(ctx context.Context, cfg config.Telemetry, log *logger.Zap) (*Provider, error) {
	if !cfg.Enabled {
		log.Info("Трассировка отключена")
		return &Provider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("ресурс otel: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("экспортёр трасс: %w", err)
	}

	tp := NewProvider(res, sdktrace.WithBatcher(exporter), sdktrace.WithSampler(Sampler(cfg.SampleRate)))
	otel.SetTracerProvider(tp.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("Трассировка включена",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return tp, nil
}

// NewProvider создаёт провайдер с произвольными опциями, в том числе с
// синхронным экспортёром для тестов.
func NewProvider(res *resource.Resource, opts ...sdktrace.TracerProviderOption) *Provider {
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}
	return &Provider{tp: sdktrace.NewTracerProvider(opts...)}
}

// Sampler доля сэмплирования, приведённая к [0,1], с учётом решения родителя.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// TracerProvider возвращает SDK-провайдер или nil, если телеметрия выключена.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tp
}

// Shutdown выгружает накопленные спаны. Безопасен для выключенной телеметрии.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("остановка провайдера трасс: %w", err)
	}
	return nil
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
