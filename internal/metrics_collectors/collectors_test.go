package metrics_collectors_test

import (
	"context"
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/bridge/bridgetest"
	"github.com/benmeehan/debloat-agent/internal/constants"
	mc "github.com/benmeehan/debloat-agent/internal/metrics_collectors"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serial = "ABC123"

func TestDefaultRegistry_OrderAndTTLs(t *testing.T) {
	r := mc.NewDefaultRegistry(mc.TTLs{Memory: 7 * time.Second}, zerolog.Nop())
	assert.Equal(t, mc.DefaultOrder, r.Names())

	ttls := map[string]time.Duration{}
	for _, c := range r.Ordered() {
		ttls[c.Name()] = c.TTL()
		assert.NotEmpty(t, c.Description())
	}
	assert.Equal(t, constants.DefaultStorageTTL, ttls["storage"])
	assert.Equal(t, 7*time.Second, ttls["memory"])
	assert.Equal(t, constants.DefaultBatteryTTL, ttls["battery"])
	assert.Equal(t, constants.DefaultAppCountsTTL, ttls["app_counts"])
}

func TestRegistry_ReRegisterKeepsPosition(t *testing.T) {
	r := mc.NewDefaultRegistry(mc.TTLs{}, zerolog.Nop())
	r.Register(&mc.StorageMetricCollector{TTLValue: time.Minute})
	assert.Equal(t, mc.DefaultOrder, r.Names())

	c, ok := r.Get("storage")
	require.True(t, ok)
	assert.Equal(t, time.Minute, c.TTL())
}

func TestStorageCollector_FallsBackToHumanSizes(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		OnShell(serial, "df /data", bridgetest.Response{Output: "Filesystem Size Used Avail\n/dev/x 2G 1G 1G 50% /data\n"}).
		OnShell(serial, "df -h /data", bridgetest.Response{Output: "Filesystem Size Used Avail\n/dev/x 2G 1G 1G 50% /data\n"})
	c := &mc.StorageMetricCollector{}

	v, err := c.Collect(context.Background(), runner, serial)
	require.NoError(t, err)

	var snap models.HealthSnapshot
	c.Apply(&snap, v)
	assert.Equal(t, uint64(2048), snap.Storage.TotalMB)
	assert.InDelta(t, 50.0, snap.Storage.UsagePercent, 0.001)
}

func TestCPUCollector_FallsBackToProcStat(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		OnShell(serial, "top -n 1 -b", bridgetest.Response{Err: bridge.CommandFailed("top: not found")}).
		OnShell(serial, "head -1 /proc/stat", bridgetest.Response{Output: "cpu 50 0 50 900 0\n"})
	c := &mc.CPUMetricCollector{}

	v, err := c.Collect(context.Background(), runner, serial)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, v.(models.CPUInfo).UsagePercent, 0.001)
}

func TestCPUCollector_BothSourcesUnparseable(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		OnShell(serial, "top -n 1 -b", bridgetest.Response{Output: "nothing\n"}).
		OnShell(serial, "head -1 /proc/stat", bridgetest.Response{Output: "nothing\n"})

	_, err := (&mc.CPUMetricCollector{}).Collect(context.Background(), runner, serial)
	assert.ErrorIs(t, err, bridge.ErrParse)
}

func TestAppCountsCollector(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		OnShell(serial, "pm list packages -s", bridgetest.Response{Output: "package:a\npackage:b\n"}).
		OnShell(serial, "pm list packages -3", bridgetest.Response{Output: "package:c\n"})
	c := &mc.AppCountsMetricCollector{}

	v, err := c.Collect(context.Background(), runner, serial)
	require.NoError(t, err)
	assert.Equal(t, models.AppCounts{SystemApps: 2, UserApps: 1, TotalApps: 3}, v)
}

func TestBatteryCollector_StreamsDump(t *testing.T) {
	runner := bridgetest.NewFakeRunner().OnShell(serial, "dumpsys batterystats", bridgetest.Response{Lines: []string{
		"Battery History:",
		"  Uid 1 (not.in.section): 99 mAh",
		"Estimated power use (mAh):",
		"  Uid 10001 (com.a.one): 3 mAh",
		"  Uid 10002 (com.b.two): 1 mAh",
	}})
	c := &mc.BatteryMetricCollector{}

	v, err := c.Collect(context.Background(), runner, serial)
	require.NoError(t, err)

	var snap models.HealthSnapshot
	c.Apply(&snap, v)
	require.Len(t, snap.BatteryDrainers, 2)
	assert.Equal(t, "one", snap.BatteryDrainers[0].AppName)
	assert.InDelta(t, 75.0, snap.BatteryDrainers[0].UsagePercent, 0.001)
}

func TestCollectors_PropagateBridgeErrors(t *testing.T) {
	runner := bridgetest.NewFakeRunner().Otherwise(bridgetest.Response{Err: &bridge.Error{Kind: bridge.KindDeviceOffline}})
	for _, c := range mc.NewDefaultRegistry(mc.TTLs{}, zerolog.Nop()).Ordered() {
		if c.Name() == constants.MetricCPU {
			continue
		}
		_, err := c.Collect(context.Background(), runner, serial)
		assert.ErrorIs(t, err, bridge.ErrDeviceOffline, c.Name())
	}
}
