package metrics_collectors

import (
	"time"

	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/rs/zerolog"
)

// TTLs overrides the per-metric cache lifetimes. Zero keeps the default.
type TTLs struct {
	Storage   time.Duration
	Memory    time.Duration
	CPU       time.Duration
	Services  time.Duration
	AppCounts time.Duration
	Thermal   time.Duration
	Battery   time.Duration
}

// NewDefaultRegistry registers the seven health collectors in collection order.
func NewDefaultRegistry(ttls TTLs, logger zerolog.Logger) *MetricsRegistry {
	r := NewMetricsRegistry()
	r.Register(&StorageMetricCollector{Logger: logger, TTLValue: ttls.Storage})
	r.Register(&MemoryMetricCollector{Logger: logger, TTLValue: ttls.Memory})
	r.Register(&CPUMetricCollector{Logger: logger, TTLValue: ttls.CPU})
	r.Register(&ServicesMetricCollector{Logger: logger, TTLValue: ttls.Services})
	r.Register(&AppCountsMetricCollector{Logger: logger, TTLValue: ttls.AppCounts})
	r.Register(&ThermalMetricCollector{Logger: logger, TTLValue: ttls.Thermal})
	r.Register(&BatteryMetricCollector{Logger: logger, TTLValue: ttls.Battery})
	return r
}

// Collection order, exported for callers that validate names.
var DefaultOrder = []string{
	constants.MetricStorage,
	constants.MetricMemory,
	constants.MetricCPU,
	constants.MetricServices,
	constants.MetricAppCounts,
	constants.MetricThermal,
	constants.MetricBattery,
}
