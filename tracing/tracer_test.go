package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitExportsSpans(t *testing.T) {
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		Tracer = otel.Tracer(tracerName)
	})

	var buf bytes.Buffer
	tp, err := Init(Options{ServiceName: "authz-test", SampleRatio: 1, Writer: &buf})
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), "OAuthService.Exchange")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "OAuthService.Exchange")
	assert.Contains(t, buf.String(), "authz-test")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "root:TraceIDRatioBased{0.25}")
}
