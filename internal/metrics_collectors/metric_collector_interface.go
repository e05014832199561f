package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/models"
)

// MetricCollector reads one device health metric through the bridge.
type MetricCollector interface {
	Name() string       // Name of the metric (e.g., "storage", "battery")
	TTL() time.Duration // How long a collected value stays fresh
	// Collect reads the metric from the device with the given serial. A nil
	// error means value is ready to be applied.
	Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error)
	// Apply copies a collected value into the snapshot.
	Apply(snapshot *models.HealthSnapshot, value interface{})
	Description() string
}

func ttlOr(ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return fallback
}
