package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://remoteok.io/api"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://remoteok.io/api?page=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 0.5, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com"))
}

func TestSetHostRateOverridesDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	l.SetHostRate("Fast.Example.com", 1000)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(ctx, "https://fast.example.com/jobs"))
		require.Less(t, time.Since(start), 100*time.Millisecond)
	}
}

func TestAllowAndDisabledLimiter(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 2})
	require.True(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.2"))

	open := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, open.Allow("any"))
	}
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "weworkremotely.com", Host("https://WeWorkRemotely.com/remote-jobs.rss"))
	require.Equal(t, "unknown", Host("::not a url"))
	require.Equal(t, "unknown", Host("/relative"))
}
