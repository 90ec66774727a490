package sources

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metric ids served by SystemProvider
const (
	MetricCPUUsage    = "cpu_usage"
	MetricMemoryUsage = "memory_usage"
	MetricDiskUsage   = "disk_usage"
)

// SystemProvider reads host utilisation percentages
type SystemProvider struct {
	diskPath string

	cpuPercent  func(ctx context.Context) (float64, error)
	memPercent  func(ctx context.Context) (float64, error)
	diskPercent func(ctx context.Context, path string) (float64, error)
}

// NewSystemProvider creates a provider; diskPath defaults to "/"
func NewSystemProvider(diskPath string) *SystemProvider {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemProvider{
		diskPath:    diskPath,
		cpuPercent:  cpuPercent,
		memPercent:  memPercent,
		diskPercent: diskPercent,
	}
}

// Metrics implements Lister
func (p *SystemProvider) Metrics() []string {
	return []string{MetricCPUUsage, MetricMemoryUsage, MetricDiskUsage}
}

// Value implements Provider
func (p *SystemProvider) Value(ctx context.Context, metricID string) (float64, error) {
	switch metricID {
	case MetricCPUUsage:
		return p.cpuPercent(ctx)
	case MetricMemoryUsage:
		return p.memPercent(ctx)
	case MetricDiskUsage:
		return p.diskPercent(ctx, p.diskPath)
	}
	return 0, fmt.Errorf("%s: %w", metricID, ErrUnsupported)
}

// cpuPercent measures utilisation since the previous call
func cpuPercent(ctx context.Context) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("failed to get CPU usage: no samples")
	}
	return values[0], nil
}

func memPercent(ctx context.Context) (float64, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get memory info: %w", err)
	}
	return vmem.UsedPercent, nil
}

func diskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to get disk usage for %s: %w", path, err)
	}
	return usage.UsedPercent, nil
}
