package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/bridge/bridgetest"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/events"
	mc "github.com/benmeehan/debloat-agent/internal/metrics_collectors"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCollector returns scripted values per serial and counts its calls.
type stubCollector struct {
	name string
	ttl  time.Duration

	mu     sync.Mutex
	calls  int
	values map[string]int
	fail   bool
}

func (s *stubCollector) Name() string        { return s.name }
func (s *stubCollector) TTL() time.Duration  { return s.ttl }
func (s *stubCollector) Description() string { return "stub " + s.name }

func (s *stubCollector) Collect(ctx context.Context, runner bridge.Runner, serial string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, bridge.CommandFailed("stub failure")
	}
	return s.values[serial], nil
}

// Apply stores the value in ServicesCount summed with the other stubs so the
// snapshot shows which metrics contributed.
func (s *stubCollector) Apply(snapshot *models.HealthSnapshot, value interface{}) {
	snapshot.ServicesCount += value.(int)
}

func (s *stubCollector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubCollector) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

type healthFixture struct {
	svc    *HealthService
	runner *bridgetest.FakeRunner
	sink   *events.ChannelSink
	clock  *testClock
	stubs  []*stubCollector
}

func newHealthFixture(t *testing.T) *healthFixture {
	t.Helper()
	f := &healthFixture{
		runner: bridgetest.NewFakeRunner().On(bridgetest.Response{Output: "ABC123\n"}, "get-serialno"),
		sink:   events.NewChannelSink(1024),
		clock:  &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	registry := mc.NewMetricsRegistry()
	ttls := []time.Duration{3, 2, 3, 10, 60, 5, 30}
	for i, name := range mc.DefaultOrder {
		stub := &stubCollector{
			name:   name,
			ttl:    ttls[i] * time.Second,
			values: map[string]int{"ABC123": 1 << i, "XYZ789": 1000},
		}
		f.stubs = append(f.stubs, stub)
		registry.Register(stub)
	}
	f.svc = NewHealthService(f.runner, registry, f.sink, HealthServiceOptions{}, zerolog.Nop())
	f.svc.SetClock(f.clock.Now)
	return f
}

func (f *healthFixture) updates(t *testing.T) []models.HealthUpdate {
	t.Helper()
	var out []models.HealthUpdate
	for _, e := range f.sink.Drain() {
		if e.Name != constants.EventSystemHealthUpdate {
			continue
		}
		out = append(out, e.Payload.(models.HealthUpdate))
	}
	return out
}

func (f *healthFixture) stub(name string) *stubCollector {
	for _, s := range f.stubs {
		if s.name == name {
			return s
		}
	}
	return nil
}

func TestCollect_EmitsAfterEveryMetric(t *testing.T) {
	f := newHealthFixture(t)

	snap, err := f.svc.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", snap.DeviceID)
	assert.Equal(t, 127, snap.ServicesCount)
	assert.Len(t, snap.UpdatedAt, 7)

	updates := f.updates(t)
	require.Len(t, updates, 7)
	for i, u := range updates {
		assert.Equal(t, mc.DefaultOrder[:i+1], u.MetricsUpdated)
		assert.Equal(t, i == 6, u.IsComplete)
		assert.Equal(t, (1<<(i+1))-1, u.Health.ServicesCount, "running snapshot after %s", mc.DefaultOrder[i])
	}
}

func TestCollect_ReusesFreshMetrics(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Collect(ctx)
	require.NoError(t, err)
	f.sink.Drain()

	f.clock.Advance(time.Second)
	_, err = f.svc.Collect(ctx)
	require.NoError(t, err)
	for _, s := range f.stubs {
		assert.Equal(t, 1, s.callCount(), s.name)
	}
	last := f.updates(t)
	require.Len(t, last, 7)
	assert.Empty(t, last[6].MetricsUpdated)
	assert.Equal(t, 127, last[6].Health.ServicesCount, "cached values still populate the snapshot")

	f.clock.Advance(time.Second)
	snap, err := f.svc.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stub(constants.MetricMemory).callCount())
	assert.Equal(t, 1, f.stub(constants.MetricStorage).callCount())
	assert.Equal(t, f.clock.Now(), snap.UpdatedAt[constants.MetricMemory])
	assert.Equal(t, f.clock.Now().Add(-2*time.Second), snap.UpdatedAt[constants.MetricStorage])

	last = f.updates(t)
	assert.Equal(t, []string{constants.MetricMemory}, last[6].MetricsUpdated)
}

func TestCollect_DeviceChangeResetsEveryMetric(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Collect(ctx)
	require.NoError(t, err)

	f.runner.On(bridgetest.Response{Output: "XYZ789\n"}, "get-serialno")
	f.stub(constants.MetricBattery).setFail(true)
	snap, err := f.svc.Collect(ctx)
	require.NoError(t, err)

	for _, s := range f.stubs {
		assert.Equal(t, 2, s.callCount(), s.name)
	}
	assert.Equal(t, "XYZ789", snap.DeviceID)
	assert.Equal(t, 6000, snap.ServicesCount, "no value from the previous device leaks in")
	assert.NotContains(t, snap.UpdatedAt, constants.MetricBattery)
}

func TestCollect_FailedMetricKeepsPreviousValue(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Collect(ctx)
	require.NoError(t, err)
	f.sink.Drain()

	cpu := f.stub(constants.MetricCPU)
	cpu.setFail(true)
	f.clock.Advance(4 * time.Second)
	snap, err := f.svc.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, cpu.callCount())
	assert.Equal(t, 127, snap.ServicesCount)
	assert.Equal(t, f.clock.Now().Add(-4*time.Second), snap.UpdatedAt[constants.MetricCPU])

	updates := f.updates(t)
	assert.NotContains(t, updates[6].MetricsUpdated, constants.MetricCPU)
	assert.Contains(t, updates[6].MetricsUpdated, constants.MetricStorage)

	// Failed metrics are retried on the next pass.
	_, err = f.svc.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cpu.callCount())
}

func TestCollect_UnidentifiedDevice(t *testing.T) {
	f := newHealthFixture(t)
	f.runner.On(bridgetest.Response{Err: &bridge.Error{Kind: bridge.KindNoDeviceConnected}}, "get-serialno")

	snap, err := f.svc.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.DeviceID)
	assert.Equal(t, 0, snap.ServicesCount)
}

func TestCollect_CancelledContext(t *testing.T) {
	f := newHealthFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Collect(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.runner.Calls())
}

func TestClearCache_RefetchesEverything(t *testing.T) {
	f := newHealthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Collect(ctx)
	require.NoError(t, err)
	f.svc.ClearCache()
	_, err = f.svc.Collect(ctx)
	require.NoError(t, err)

	for _, s := range f.stubs {
		assert.Equal(t, 2, s.callCount(), s.name)
	}
}

func TestCollect_WithDeviceCollectors(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{Output: "ABC123\n"}, "get-serialno").
		OnShell("ABC123", "df /data", bridgetest.Response{Output: "Filesystem 1K-blocks Used Available Use% Mounted on\n/dev/block/dm-5 2097152 1048576 1048576 50% /data\n"}).
		OnShell("ABC123", "cat /proc/meminfo", bridgetest.Response{Output: "MemTotal: 4194304 kB\nMemAvailable: 1048576 kB\nBuffers: 1024 kB\nCached: 2048 kB\n"}).
		OnShell("ABC123", "service list", bridgetest.Response{Output: "Found 3 services:\n0 a: []\n1 b: []\n2 c: []\n"}).
		Otherwise(bridgetest.Response{Err: bridge.CommandFailed("unsupported")})
	sink := events.NewChannelSink(64)
	svc := NewHealthService(runner, nil, sink, HealthServiceOptions{}, zerolog.Nop())

	snap, err := svc.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), snap.Storage.TotalMB)
	assert.InDelta(t, 50.0, snap.Storage.UsagePercent, 0.001)
	assert.Equal(t, uint64(4096), snap.Memory.TotalMB)
	assert.InDelta(t, 75.0, snap.Memory.UsagePercent, 0.001)
	assert.Equal(t, 3, snap.ServicesCount)
	assert.Equal(t, "unknown", snap.Thermal.Status)
	assert.NotNil(t, snap.BatteryDrainers)

	updates := sink.Drain()
	require.Len(t, updates, 7)
	last := updates[6].Payload.(models.HealthUpdate)
	assert.True(t, last.IsComplete)
	assert.Equal(t, []string{constants.MetricStorage, constants.MetricMemory, constants.MetricServices}, last.MetricsUpdated)
}

func TestMonitor_CollectsOnlyWhenDeviceReady(t *testing.T) {
	f := newHealthFixture(t)
	f.runner.On(bridgetest.Response{Output: "offline\n"}, "get-state")

	interval := f.svc.StartMonitor(10 * time.Millisecond)
	assert.Equal(t, time.Second, interval, "intervals are clamped to one second")
	assert.True(t, f.svc.MonitorRunning())

	require.Eventually(t, func() bool {
		return f.runner.CallCount("get-state") >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.runner.CallCount("get-serialno"), "no pass while the device is offline")

	f.runner.On(bridgetest.Response{Output: "device\n"}, "get-state")
	f.svc.StartMonitor(time.Second)
	require.Eventually(t, func() bool {
		return f.stub(constants.MetricBattery).callCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.svc.StopMonitor()
	assert.False(t, f.svc.MonitorRunning())
	f.svc.StopMonitor()
}

func TestHealthService_StartStop(t *testing.T) {
	f := newHealthFixture(t)
	f.runner.On(bridgetest.Response{Output: "device\n"}, "get-state")
	f.svc.autoMonitor = true

	require.NoError(t, f.svc.Start())
	assert.Error(t, f.svc.Start())
	assert.True(t, f.svc.MonitorRunning())

	require.NoError(t, f.svc.Stop())
	assert.False(t, f.svc.MonitorRunning())
	assert.Error(t, f.svc.Stop())
}
