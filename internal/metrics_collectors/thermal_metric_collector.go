package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// ThermalMetricCollector reads the thermal service status.
type ThermalMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

func (t *ThermalMetricCollector) Name() string {
	return constants.MetricThermal
}

func (t *ThermalMetricCollector) TTL() time.Duration {
	return ttlOr(t.TTLValue, constants.DefaultThermalTTL)
}

func (t *ThermalMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	out, err := bridge.Shell(ctx, runner, serial, "dumpsys thermalservice")
	if err != nil {
		return nil, err
	}
	return ParseThermal(out), nil
}

func (t *ThermalMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.(models.ThermalInfo); ok {
		snapshot.Thermal = v
	}
}

func (t *ThermalMetricCollector) Description() string {
	return "Thermal status (normal, moderate, severe, critical) and temperature."
}
