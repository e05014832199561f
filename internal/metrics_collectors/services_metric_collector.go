package metrics_collectors

import (
	"context"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// ServicesMetricCollector counts registered system services.
type ServicesMetricCollector struct {
	Logger   zerolog.Logger
	TTLValue time.Duration
}

func (s *ServicesMetricCollector) Name() string {
	return constants.MetricServices
}

func (s *ServicesMetricCollector) TTL() time.Duration {
	return ttlOr(s.TTLValue, constants.DefaultServicesTTL)
}

func (s *ServicesMetricCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	out, err := bridge.Shell(ctx, runner, serial, "service list")
	if err != nil {
		return nil, err
	}
	return CountServices(out), nil
}

func (s *ServicesMetricCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	if v, ok := value.(int); ok {
		snapshot.ServicesCount = v
	}
}

func (s *ServicesMetricCollector) Description() string {
	return "Number of services registered with the service manager."
}
