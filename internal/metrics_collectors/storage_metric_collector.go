package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// StorageMetricCollector reports usage of the /data partition.
type StorageMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

func (s *StorageMetricCollector) Name() string {
	return constants.MetricStorage
}

func (s *StorageMetricCollector) TTL() time.Duration {
	return ttlOr(s.TTLValue, constants.DefaultStorageTTL)
}

func (s *StorageMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	out, err := bridge.Shell(ctx, runner, serial, "df /data")
	if err != nil {
		return nil, err
	}
	if info, ok := ParseStorageKB(out); ok {
		return info, nil
	}

	s.Logger.Debug().Msg("df reported non-numeric sizes, retrying with -h")
	out, err = bridge.Shell(ctx, runner, serial, "df -h /data")
	if err != nil {
		return nil, err
	}
	if info, ok := ParseStorageHuman(out); ok {
		return info, nil
	}
	return nil, bridge.ParseError("Failed to parse storage info")
}

func (s *StorageMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.(models.StorageInfo); ok {
		snapshot.Storage = v
	}
}

func (s *StorageMetricCollector) Description() string {
	return "Total, used and free megabytes of the /data partition."
}
