package tracing

import (
	"context"
	"testing"

	"explorer/internal/config"
	"explorer/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledIsNoop(t *testing.T) {
	p, err := Init(context.Background(), config.Telemetry{Enabled: false}, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p.TracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))

	var nilProvider *Provider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

func TestProviderRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p := NewProvider(nil, sdktrace.WithSpanProcessor(rec), sdktrace.WithSampler(Sampler(1)))

	_, span := p.TracerProvider().Tracer("explorer/test").Start(context.Background(), "engine.step")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "engine.step", ended[0].Name())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSamplerBounds(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p := NewProvider(nil, sdktrace.WithSpanProcessor(rec), sdktrace.WithSampler(Sampler(0)))

	_, span := p.TracerProvider().Tracer("explorer/test").Start(context.Background(), "dropped")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	assert.Empty(t, rec.Ended())
}
