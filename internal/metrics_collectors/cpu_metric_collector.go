package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// CPUMetricCollector collects device CPU usage.
type CPUMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

func (c *CPUMetricCollector) Name() string {
	return constants.MetricCPU
}

func (c *CPUMetricCollector) TTL() time.Duration {
	return ttlOr(c.TTLValue, constants.DefaultCPUTTL)
}

func (c *CPUMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	if out, err := bridge.Shell(ctx, runner, serial, "top -n 1 -b"); err == nil {
		if info, ok := ParseTopCPU(out); ok {
			c.Logger.Debug().Float64("cpu_usage", info.UsagePercent).Msg("CPU usage collected successfully")
			return info, nil
		}
	} else {
		c.Logger.Debug().Err(err).Msg("top failed, falling back to /proc/stat")
	}

	out, err := bridge.Shell(ctx, runner, serial, "head -1 /proc/stat")
	if err != nil {
		return nil, err
	}
	info, ok := ParseProcStat(out)
	if !ok {
		return nil, bridge.ParseError("Failed to parse CPU info")
	}
	return info, nil
}

func (c *CPUMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.(models.CPUInfo); ok {
		snapshot.CPU = v
	}
}

func (c *CPUMetricCollector) Description() string {
	return "Percentage of CPU utilization across all cores."
}
