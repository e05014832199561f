// Package devices enumerates attached Android devices through the bridge.
package devices

import (
	"context"
	"strings"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/cache"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Registry lists ready devices and caches the list for a short TTL so an
// interactive client cannot flood the bridge with listings.
type Registry struct {
	runner bridge.Runner
	ttl    time.Duration
	now    cache.Clock
	logger zerolog.Logger

	slot  cache.Slot[[]models.Device]
	group singleflight.Group
}

// NewRegistry creates a Registry. A zero ttl uses the default of 5s.
func NewRegistry(runner bridge.Runner, ttl time.Duration, logger zerolog.Logger) *Registry {
	if ttl <= 0 {
		ttl = constants.DefaultDeviceCacheTTL
	}
	return &Registry{
		runner: runner,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(clock cache.Clock) {
	r.now = clock
}

// ListDevices returns the ready devices. Within the TTL the cached list is
// returned without spawning the bridge unless force is set. Concurrent
// refreshes share one invocation.
func (r *Registry) ListDevices(ctx context.Context, force bool) ([]models.Device, error) {
	if !force {
		if cached, ok := r.slot.Get(r.now(), ""); ok {
			return cloneDevices(cached), nil
		}
	}

	v, err, _ := r.group.Do("devices", func() (interface{}, error) {
		out, err := r.runner.Run(ctx, "devices", "-l")
		if err != nil {
			return nil, err
		}

		var ready []models.Device
		for _, d := range ParseDevices(out) {
			if d.IsReady() {
				ready = append(ready, d)
			}
		}
		r.slot.Set(cache.Entry[[]models.Device]{Value: ready, CapturedAt: r.now(), TTL: r.ttl})
		r.logger.Debug().Int("count", len(ready)).Msg("Refreshed device list")
		return ready, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneDevices(v.([]models.Device)), nil
}

// DefaultDevice returns the first ready device.
func (r *Registry) DefaultDevice(ctx context.Context) (models.Device, error) {
	devices, err := r.ListDevices(ctx, false)
	if err != nil {
		return models.Device{}, err
	}
	if len(devices) == 0 {
		return models.Device{}, &bridge.Error{Kind: bridge.KindNoDeviceConnected}
	}
	return devices[0], nil
}

// DefaultSerial returns the serial of the first ready device.
func (r *Registry) DefaultSerial(ctx context.Context) (string, error) {
	d, err := r.DefaultDevice(ctx)
	if err != nil {
		return "", err
	}
	return d.Serial, nil
}

// IsOnline refreshes the listing and reports whether serial is ready.
func (r *Registry) IsOnline(ctx context.Context, serial string) bool {
	devices, err := r.ListDevices(ctx, true)
	if err != nil {
		return false
	}
	for _, d := range devices {
		if d.Serial == serial {
			return true
		}
	}
	return false
}

// Invalidate forces the next ListDevices to refresh.
func (r *Registry) Invalidate() {
	r.slot.Expire()
}

// DeviceInfo gathers display details for the default device. Only the
// device lookup is fatal; missing details are left empty.
func (r *Registry) DeviceInfo(ctx context.Context) (models.DeviceInfo, error) {
	d, err := r.DefaultDevice(ctx)
	if err != nil {
		return models.DeviceInfo{}, err
	}

	info := models.DeviceInfo{Name: d.Serial, Model: d.Model, AndroidVersion: "Unknown"}

	if out, err := bridge.Shell(ctx, r.runner, d.Serial, "getprop ro.build.version.release"); err == nil {
		if v := strings.TrimSpace(out); v != "" {
			info.AndroidVersion = v
		}
	}
	if out, err := bridge.Shell(ctx, r.runner, d.Serial, "dumpsys battery"); err == nil {
		if level, ok := parseBatteryLevel(out); ok {
			info.BatteryPercent = &level
		}
	}
	if out, err := bridge.Shell(ctx, r.runner, d.Serial, "df /data"); err == nil {
		if available, ok := parseAvailableStorage(out); ok {
			info.StorageAvailable = available
		}
	}
	return info, nil
}

func cloneDevices(in []models.Device) []models.Device {
	out := make([]models.Device, len(in))
	copy(out, in)
	return out
}
