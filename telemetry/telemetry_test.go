package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "sw-cache"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Options{
		ServiceName:    "sw-cache",
		ServiceVersion: "test",
		Endpoint:       "http://192.0.2.1:4318",
		SampleRatio:    0.5,
	})
	require.NoError(t, err)
	// nothing was recorded, so shutdown does not contact the collector
	require.NoError(t, shutdown(ctx))
}
