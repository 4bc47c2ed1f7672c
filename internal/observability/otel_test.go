package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"

	"github.com/nhle/inbox-sync/internal/model"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), model.TracingConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupExporterError(t *testing.T) {
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })
	newExporter = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("no collector")
	}

	_, err := Setup(context.Background(), model.TracingConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Insecure: true,
	}, "test")
	assert.Error(t, err)
}
