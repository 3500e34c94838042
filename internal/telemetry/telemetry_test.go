package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/config"
	"goose/internal/telemetry"
)

func TestDisabledInstallsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.Telemetry{}, "goose", "test", nil)
	require.NoError(t, err)
	_, span := telemetry.Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestEnabledExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := telemetry.Init(context.Background(), config.Telemetry{Enabled: true}, "goose", "test", &buf)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = telemetry.Init(context.Background(), config.Telemetry{}, "goose", "test", nil)
	})

	_, span := telemetry.Tracer("goose/test").Start(context.Background(), "engine.AcceptSummary")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "engine.AcceptSummary")
}
