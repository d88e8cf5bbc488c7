package sysinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func fakeProbes() Probes {
	return Probes{
		CPU: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{12.3456}, nil
		},
		Memory: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: 4096 * mib, Used: 1024 * mib, UsedPercent: 25}, nil
		},
		Disk: func(_ context.Context, path string) (*disk.UsageStat, error) {
			return &disk.UsageStat{Path: path, UsedPercent: 61.119}, nil
		},
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSampler(fakeProbes(), "", func() time.Time { return at })

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, Snapshot{
		CPUPercent:    12.35,
		MemoryPercent: 25,
		MemoryUsedMB:  1024,
		MemoryTotalMB: 4096,
		DiskPercent:   61.12,
		Timestamp:     at,
	}, snap)
}

func TestSnapshotProbeFailure(t *testing.T) {
	t.Parallel()

	probes := fakeProbes()
	probes.Disk = func(context.Context, string) (*disk.UsageStat, error) {
		return nil, errors.New("no such mount")
	}
	_, err := NewSampler(probes, "/data", nil).Snapshot(context.Background())
	require.ErrorContains(t, err, "disk usage: no such mount")
}

func TestSnapshotLiveHost(t *testing.T) {
	t.Parallel()

	snap, err := NewSampler(DefaultProbes(), "/", nil).Snapshot(context.Background())
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	require.GreaterOrEqual(t, snap.MemoryTotalMB, snap.MemoryUsedMB)
	require.False(t, snap.Timestamp.IsZero())
}
