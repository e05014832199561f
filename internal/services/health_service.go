package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/cache"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/events"
	mc "github.com/benmeehan/debloat-agent/internal/metrics_collectors"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// HealthService assembles device health snapshots from independently cached
// metrics and can poll them in the background.
type HealthService struct {
	runner   bridge.Runner
	registry *mc.MetricsRegistry
	sink     events.Sink
	now      cache.Clock
	logger   zerolog.Logger

	autoMonitor     bool
	monitorInterval time.Duration

	slotsMu sync.Mutex
	slots   map[string]*cache.Slot[interface{}]
	owner   string

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorWg     sync.WaitGroup
	running       bool
}

// HealthServiceOptions tunes a HealthService.
type HealthServiceOptions struct {
	// AutoMonitor starts polling from Start.
	AutoMonitor     bool
	MonitorInterval time.Duration
}

// NewHealthService creates a HealthService collecting the metrics in registry.
func NewHealthService(runner bridge.Runner, registry *mc.MetricsRegistry, sink events.Sink, opts HealthServiceOptions, logger zerolog.Logger) *HealthService {
	if registry == nil {
		registry = mc.NewDefaultRegistry(mc.TTLs{}, logger)
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = constants.DefaultMonitorInterval
	}
	return &HealthService{
		runner:          runner,
		registry:        registry,
		sink:            sink,
		now:             time.Now,
		logger:          logger,
		autoMonitor:     opts.AutoMonitor,
		monitorInterval: opts.MonitorInterval,
		slots:           make(map[string]*cache.Slot[interface{}]),
	}
}

// SetClock replaces the time source.
func (h *HealthService) SetClock(clock cache.Clock) {
	h.now = clock
}

// Start marks the service running and starts the monitor when configured.
func (h *HealthService) Start() error {
	h.monitorMu.Lock()
	if h.running {
		h.monitorMu.Unlock()
		return errors.New("health service is already running")
	}
	h.running = true
	h.monitorMu.Unlock()

	if h.autoMonitor {
		h.StartMonitor(h.monitorInterval)
	}
	h.logger.Info().Bool("monitor", h.autoMonitor).Msg("HealthService started")
	return nil
}

// Stop stops the monitor.
func (h *HealthService) Stop() error {
	h.monitorMu.Lock()
	if !h.running {
		h.monitorMu.Unlock()
		return errors.New("health service is not running")
	}
	h.running = false
	h.monitorMu.Unlock()

	h.StopMonitor()
	h.logger.Info().Msg("HealthService stopped")
	return nil
}

// Collect runs one collection pass. Stale metrics are refetched one at a
// time and a system_health_update event is emitted after each metric
// resolves. A metric that fails keeps its previous value. The returned error
// is non-nil only when ctx ends before the pass starts.
func (h *HealthService) Collect(ctx context.Context) (models.HealthSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.HealthSnapshot{}, err
	}

	serial := h.identify(ctx)
	h.adoptOwner(serial)

	snapshot := models.HealthSnapshot{
		BatteryDrainers: []models.BatteryDrainer{},
		Thermal:         models.ThermalInfo{Status: "unknown"},
		Timestamp:       h.now().UnixMilli(),
		DeviceID:        serial,
		UpdatedAt:       make(map[string]time.Time),
	}
	updated := make([]string, 0)

	collectors := h.registry.Ordered()
	for i, collector := range collectors {
		name := collector.Name()
		slot := h.slot(name)

		if _, fresh := slot.Get(h.now(), serial); !fresh {
			value, err := collector.Collect(ctx, h.runner, serial)
			if err != nil {
				h.logger.Warn().Err(err).Str("metric", name).Str("serial", serial).Msg("Metric collection failed")
			} else {
				slot.Set(cache.Entry[interface{}]{
					Value:      value,
					CapturedAt: h.now(),
					TTL:        collector.TTL(),
					Owner:      serial,
				})
				updated = append(updated, name)
			}
		}

		if entry, ok := slot.Peek(); ok && entry.Owner == serial {
			collector.Apply(&snapshot, entry.Value)
			snapshot.UpdatedAt[name] = entry.CapturedAt
		}

		h.sink.Emit(constants.EventSystemHealthUpdate, models.HealthUpdate{
			Health:         snapshot.Clone(),
			MetricsUpdated: append([]string{}, updated...),
			IsComplete:     i == len(collectors)-1,
		})
	}

	h.logger.Debug().Str("serial", serial).Strs("updated", updated).Msg("Health pass complete")
	return snapshot, nil
}

// identify returns the serial of the device the bridge talks to, or "" when
// it cannot be determined.
func (h *HealthService) identify(ctx context.Context) string {
	out, err := h.runner.Run(ctx, "get-serialno")
	if err != nil {
		h.logger.Debug().Err(err).Msg("Could not identify device")
		return ""
	}
	serial := strings.TrimSpace(out)
	if serial == "unknown" {
		return ""
	}
	return serial
}

// adoptOwner drops every cached metric when the device changed.
func (h *HealthService) adoptOwner(serial string) {
	h.slotsMu.Lock()
	defer h.slotsMu.Unlock()
	if serial == h.owner {
		return
	}
	if h.owner != "" {
		h.logger.Info().Str("from", h.owner).Str("to", serial).Msg("Device changed, resetting health cache")
	}
	for _, slot := range h.slots {
		slot.Clear()
	}
	h.owner = serial
}

func (h *HealthService) slot(name string) *cache.Slot[interface{}] {
	h.slotsMu.Lock()
	defer h.slotsMu.Unlock()
	s, ok := h.slots[name]
	if !ok {
		s = &cache.Slot[interface{}]{}
		h.slots[name] = s
	}
	return s
}

// ClearCache drops every cached metric.
func (h *HealthService) ClearCache() {
	h.slotsMu.Lock()
	defer h.slotsMu.Unlock()
	for _, slot := range h.slots {
		slot.Clear()
	}
	h.owner = ""
}

// StartMonitor polls the device every interval, collecting only while the
// device reports the "device" state. Intervals below one second are raised
// to one second. A running monitor is replaced.
func (h *HealthService) StartMonitor(interval time.Duration) time.Duration {
	if interval < constants.MinimumMonitorInterval {
		interval = constants.MinimumMonitorInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	h.monitorMu.Lock()
	previous := h.monitorCancel
	h.monitorCancel = cancel
	h.monitorWg.Add(1)
	h.monitorMu.Unlock()

	if previous != nil {
		previous()
	}
	go h.monitor(ctx, interval)
	h.logger.Info().Dur("interval", interval).Bool("restarted", previous != nil).Msg("Health monitor started")
	return interval
}

// StopMonitor stops the monitor and waits for an in-flight pass to finish.
func (h *HealthService) StopMonitor() {
	h.monitorMu.Lock()
	cancel := h.monitorCancel
	h.monitorCancel = nil
	h.monitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	h.monitorWg.Wait()
	h.logger.Info().Msg("Health monitor stopped")
}

// MonitorRunning reports whether the monitor loop is active.
func (h *HealthService) MonitorRunning() bool {
	h.monitorMu.Lock()
	defer h.monitorMu.Unlock()
	return h.monitorCancel != nil
}

func (h *HealthService) monitor(ctx context.Context, interval time.Duration) {
	defer h.monitorWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if h.deviceReady(ctx) {
			if _, err := h.Collect(ctx); err != nil && ctx.Err() == nil {
				h.logger.Error().Err(err).Msg("Health collection failed")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthService) deviceReady(ctx context.Context) bool {
	out, err := h.runner.Run(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}
