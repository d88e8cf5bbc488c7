package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
)

func TestInitWithoutProjectSkipsCloudExporter(t *testing.T) {
	ctx := context.Background()
	app := config.ApplicationConfig{ServiceName: "remotehive-test", Version: "test"}

	tp, mp, err := Init(ctx, app, "api")
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NotNil(t, mp)

	again, _, err := Init(ctx, app, "worker")
	require.NoError(t, err)
	require.Same(t, tp, again)

	_, span := Tracer().Start(ctx, "probe")
	span.End()
}
