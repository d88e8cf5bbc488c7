// Package sysinfo samples host utilisation for the system metrics endpoint.
package sysinfo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const mib = 1024 * 1024

// Snapshot is one utilisation sample.
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_usage"`
	MemoryPercent float64   `json:"memory_usage"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
	MemoryTotalMB float64   `json:"memory_total_mb"`
	DiskPercent   float64   `json:"disk_usage"`
	Timestamp     time.Time `json:"timestamp"`
}

// Probes are the gopsutil calls a Sampler uses; tests replace them.
type Probes struct {
	CPU    func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)
	Memory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	Disk   func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// DefaultProbes reads the local host.
func DefaultProbes() Probes {
	return Probes{
		CPU:    cpu.PercentWithContext,
		Memory: mem.VirtualMemoryWithContext,
		Disk:   disk.UsageWithContext,
	}
}

// Sampler takes Snapshots.
type Sampler struct {
	probes   Probes
	path     string
	interval time.Duration
	now      func() time.Time
}

// NewSampler samples disk usage of path ("/" when empty).
func NewSampler(probes Probes, path string, now func() time.Time) *Sampler {
	if path == "" {
		path = "/"
	}
	if now == nil {
		now = time.Now
	}
	return &Sampler{probes: probes, path: path, interval: 100 * time.Millisecond, now: now}
}

// Snapshot samples cpu, memory and disk. Any probe failure fails the sample.
func (s *Sampler) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Timestamp: s.now().UTC()}

	percents, err := s.probes.CPU(ctx, s.interval, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percents) > 0 {
		snap.CPUPercent = round(percents[0])
	}

	vm, err := s.probes.Memory(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory usage: %w", err)
	}
	snap.MemoryPercent = round(vm.UsedPercent)
	snap.MemoryUsedMB = round(float64(vm.Used) / mib)
	snap.MemoryTotalMB = round(float64(vm.Total) / mib)

	du, err := s.probes.Disk(ctx, s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk usage: %w", err)
	}
	snap.DiskPercent = round(du.UsedPercent)
	return snap, nil
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
