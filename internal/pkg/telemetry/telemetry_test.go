package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement.io/orchestrator/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetup_CreatesProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		// Non-routable addresses: nothing is exported.
		{"url", Config{Endpoint: "http://192.0.2.1:4318", ServiceName: "test", SampleRatio: 1}},
		{"host port", Config{Endpoint: "192.0.2.1:4318", ServiceName: "test", Version: "v1", SampleRatio: 0.5, Insecure: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}
