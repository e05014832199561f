package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// MemoryMetricCollector reads /proc/meminfo on the device.
type MemoryMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

// Name returns the identifier for the memory metric collector.
func (m *MemoryMetricCollector) Name() string {
	return constants.MetricMemory
}

// TTL is short because memory usage moves quickly.
func (m *MemoryMetricCollector) TTL() time.Duration {
	return ttlOr(m.TTLValue, constants.DefaultMemoryTTL)
}

// Collect retrieves the device memory counters.
func (m *MemoryMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	out, err := bridge.Shell(ctx, runner, serial, "cat /proc/meminfo")
	if err != nil {
		return nil, err
	}
	info, ok := ParseMeminfo(out)
	if !ok {
		return nil, bridge.ParseError("Failed to parse memory info")
	}

	m.Logger.Debug().
		Float64("memory_usage_percent", info.UsagePercent).
		Msg("Memory usage collected successfully")
	return info, nil
}

func (m *MemoryMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.(models.MemoryInfo); ok {
		snapshot.Memory = v
	}
}

// Description provides details of the memory metrics collected.
func (m *MemoryMetricCollector) Description() string {
	return "Device memory in megabytes; used is total minus available."
}
