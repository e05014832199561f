package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// BatteryMetricCollector lists the apps draining the most battery. The
// batterystats dump is large, so it is streamed and only the power section
// is kept.
type BatteryMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

func (b *BatteryMetricCollector) Name() string {
	return constants.MetricBattery
}

func (b *BatteryMetricCollector) TTL() time.Duration {
	return ttlOr(b.TTLValue, constants.DefaultBatteryTTL)
}

func (b *BatteryMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	var section BatterySection
	if err := runner.Stream(ctx, section.Add, bridge.ShellArgs(serial, "dumpsys batterystats")...); err != nil {
		return nil, err
	}

	drainers := ParseBatteryDrainers(section.Lines())
	b.Logger.Debug().Int("drainers", len(drainers)).Msg("Battery drainers collected")
	return drainers, nil
}

func (b *BatteryMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.([]models.BatteryDrainer); ok {
		snapshot.BatteryDrainers = append([]models.BatteryDrainer(nil), v...)
	}
}

func (b *BatteryMetricCollector) Description() string {
	return "Top five battery consumers as a share of their combined drain."
}
