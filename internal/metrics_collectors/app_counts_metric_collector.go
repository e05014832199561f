package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// AppCountsMetricCollector counts system and third-party packages.
type AppCountsMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

func (a *AppCountsMetricCollector) Name() string {
	return constants.MetricAppCounts
}

func (a *AppCountsMetricCollector) TTL() time.Duration {
	return ttlOr(a.TTLValue, constants.DefaultAppCountsTTL)
}

func (a *AppCountsMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	system, err := bridge.Shell(ctx, runner, serial, "pm list packages -s")
	if err != nil {
		return nil, err
	}
	user, err := bridge.Shell(ctx, runner, serial, "pm list packages -3")
	if err != nil {
		return nil, err
	}

	counts := models.AppCounts{SystemApps: CountPackages(system), UserApps: CountPackages(user)}
	counts.TotalApps = counts.SystemApps + counts.UserApps
	return counts, nil
}

func (a *AppCountsMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.(models.AppCounts); ok {
		snapshot.AppCounts = v
	}
}

func (a *AppCountsMetricCollector) Description() string {
	return "Installed system and user package counts."
}
