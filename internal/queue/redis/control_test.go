package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

func TestNewControlRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewControl(nil, "")
	require.Error(t, err)
}

func TestControlDefaultsToIdle(t *testing.T) {
	t.Parallel()

	_, _, client := newTestQueue(t, 0)
	control, err := NewControl(client, "test:tasks")
	require.NoError(t, err)

	ctl, err := control.LoadControl(context.Background())
	require.NoError(t, err)
	require.Equal(t, scraper.EngineIdle, ctl.Status)
	require.Nil(t, ctl.StartedAt)
	require.Nil(t, ctl.LastActivity)
	require.True(t, ctl.AcceptsWork())
}

func TestControlSharedBetweenClients(t *testing.T) {
	t.Parallel()

	_, mr, client := newTestQueue(t, 0)
	ctx := context.Background()
	other, err := Dial(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	writer, err := NewControl(client, "test:tasks")
	require.NoError(t, err)
	reader, err := NewControl(other, "test:tasks")
	require.NoError(t, err)

	started := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	require.NoError(t, writer.SaveControl(ctx, scraper.EngineControl{
		Status:       scraper.EnginePaused,
		StartedAt:    &started,
		LastActivity: &started,
	}))
	require.Equal(t, "paused", mr.HGet("test:tasks:engine", "status"))

	ctl, err := reader.LoadControl(ctx)
	require.NoError(t, err)
	require.Equal(t, scraper.EnginePaused, ctl.Status)
	require.False(t, ctl.AcceptsWork())
	require.Equal(t, started, *ctl.StartedAt)

	later := started.Add(time.Minute)
	require.NoError(t, reader.TouchActivity(ctx, later))
	require.NoError(t, writer.SaveControl(ctx, scraper.EngineControl{Status: scraper.EngineIdle, LastActivity: &later}))

	ctl, err = reader.LoadControl(ctx)
	require.NoError(t, err)
	require.Equal(t, scraper.EngineIdle, ctl.Status)
	require.Nil(t, ctl.StartedAt)
	require.Equal(t, later, *ctl.LastActivity)
}

func TestControlRejectsCorruptTimes(t *testing.T) {
	t.Parallel()

	_, mr, client := newTestQueue(t, 0)
	control, err := NewControl(client, "test:tasks")
	require.NoError(t, err)
	mr.HSet("test:tasks:engine", "status", "running")
	mr.HSet("test:tasks:engine", "started_at", "yesterday")

	_, err = control.LoadControl(context.Background())
	require.ErrorContains(t, err, "engine control started_at")
}
