package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/bridge/bridgetest"
	"github.com/benmeehan/debloat-agent/internal/catalog"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevices struct {
	mu     sync.Mutex
	serial string
	err    error
}

func (f *fakeDevices) DefaultSerial(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serial, f.err
}

func (f *fakeDevices) set(serial string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serial = serial
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.ActionRecord
}

func (f *fakeRecorder) Record(ctx context.Context, rec models.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func packageLines(n int) []string {
	lines := make([]string, 0, n)
	for i := n; i > 0; i-- {
		lines = append(lines, fmt.Sprintf("package:org.example.app%03d", i))
	}
	return lines
}

type packageFixture struct {
	svc      *PackageService
	runner   *bridgetest.FakeRunner
	devices  *fakeDevices
	sink     *events.ChannelSink
	recorder *fakeRecorder
	clock    *testClock
}

func newPackageFixture(t *testing.T) *packageFixture {
	t.Helper()
	f := &packageFixture{
		runner:   bridgetest.NewFakeRunner(),
		devices:  &fakeDevices{serial: "ABC123"},
		sink:     events.NewChannelSink(1024),
		recorder: &fakeRecorder{},
		clock:    &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	f.svc = NewPackageService(f.runner, f.devices, catalog.Default(), f.sink, f.recorder, PackageServiceOptions{WorkerCount: 1}, zerolog.Nop())
	f.svc.SetClock(f.clock.Now)
	t.Cleanup(func() { _ = f.svc.Stop() })
	return f
}

func (f *packageFixture) script(serial string, lines []string, err error) {
	f.runner.OnShell(serial, listPackagesCommand, bridgetest.Response{Lines: lines, Err: err})
}

// waitStream collects events until a completing progress event arrives.
func (f *packageFixture) waitStream(t *testing.T) []models.Event {
	t.Helper()
	var got []models.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-f.sink.Events():
			got = append(got, e)
			if p, ok := e.Payload.(models.StreamProgress); ok && p.IsComplete {
				return got
			}
		case <-timeout:
			t.Fatalf("stream did not finish, got %d events", len(got))
			return got
		}
	}
}

func chunksOf(evts []models.Event) []models.PackageChunk {
	var out []models.PackageChunk
	for _, e := range evts {
		if c, ok := e.Payload.(models.PackageChunk); ok {
			out = append(out, c)
		}
	}
	return out
}

func completeOf(t *testing.T, evts []models.Event) models.StreamComplete {
	t.Helper()
	for _, e := range evts {
		if c, ok := e.Payload.(models.StreamComplete); ok {
			assert.Equal(t, constants.EventPackageStreamComplete, e.Name)
			return c
		}
	}
	t.Fatal("no complete event")
	return models.StreamComplete{}
}

func TestStartStream_BatchesInDiscoveryOrderAndCachesSorted(t *testing.T) {
	f := newPackageFixture(t)
	lines := packageLines(65)
	f.script("ABC123", lines, nil)

	require.NoError(t, f.svc.StartStream(context.Background(), false))
	evts := f.waitStream(t)

	first := evts[0].Payload.(models.StreamProgress)
	assert.Equal(t, "Starting package scan...", first.Status)

	chunks := chunksOf(evts)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{30, 30, 5}, []int{len(chunks[0].Packages), len(chunks[1].Packages), len(chunks[2].Packages)})
	assert.Equal(t, []int{30, 60, 65}, []int{chunks[0].TotalSoFar, chunks[1].TotalSoFar, chunks[2].TotalSoFar})
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, i == 2, c.IsFinal)
		assert.False(t, c.FromCache)
	}
	assert.Equal(t, "org.example.app065", chunks[0].Packages[0].PackageName, "batches keep discovery order")

	var union []string
	for _, c := range chunks {
		for _, p := range c.Packages {
			union = append(union, p.PackageName)
		}
	}
	cached, err := f.svc.CachedPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 65)
	assert.Equal(t, "org.example.app001", cached[0].PackageName, "cache is sorted")
	assert.ElementsMatch(t, union, namesOf(cached))

	complete := completeOf(t, evts)
	assert.Equal(t, 65, complete.TotalPackages)
	assert.False(t, complete.FromCache)

	last := evts[len(evts)-1].Payload.(models.StreamProgress)
	assert.Equal(t, 65, last.PackagesLoaded)
	assert.Empty(t, last.Error)
}

func namesOf(records []models.PackageRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.PackageName
	}
	return out
}

func TestStartStream_ExactMultipleEndsWithEmptyTerminalBatch(t *testing.T) {
	f := newPackageFixture(t)
	f.script("ABC123", packageLines(60), nil)

	require.NoError(t, f.svc.StartStream(context.Background(), false))
	chunks := chunksOf(f.waitStream(t))

	require.Len(t, chunks, 3)
	assert.Empty(t, chunks[2].Packages)
	assert.True(t, chunks[2].IsFinal)
	assert.Equal(t, 60, chunks[2].TotalSoFar)
}

func TestStartStream_ClassifiesAndSorts(t *testing.T) {
	f := newPackageFixture(t)
	f.script("ABC123", []string{
		"package:com.android.systemui",
		"package:   ",
		"noise line",
		"package:com.facebook.katana",
		"package:com.google.android.apps.maps",
	}, nil)

	require.NoError(t, f.svc.StartStream(context.Background(), false))
	f.waitStream(t)

	cached, err := f.svc.CachedPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 3)
	assert.Equal(t, models.PackageRecord{PackageName: "com.android.systemui", AppName: "System UI", SafetyLevel: models.SafetyDangerous}, cached[0])
	assert.Equal(t, "com.facebook.katana", cached[1].PackageName)
	assert.Equal(t, models.SafetyCaution, cached[1].SafetyLevel)
	assert.Equal(t, "com.google.android.apps.maps", cached[2].PackageName)
	assert.Equal(t, models.SafetySafe, cached[2].SafetyLevel)
}

func TestStartStream_ReplaysCacheWithoutSpawning(t *testing.T) {
	f := newPackageFixture(t)
	f.script("ABC123", packageLines(35), nil)
	ctx := context.Background()

	require.NoError(t, f.svc.StartStream(ctx, false))
	f.waitStream(t)
	spawns := f.runner.CallCount(bridge.ShellArgs("ABC123", listPackagesCommand)...)
	require.Equal(t, 1, spawns)

	f.clock.Advance(299 * time.Second)
	require.NoError(t, f.svc.StartStream(ctx, false))
	evts := f.waitStream(t)

	assert.Equal(t, 1, f.runner.CallCount(bridge.ShellArgs("ABC123", listPackagesCommand)...), "replay spawns nothing")
	chunks := chunksOf(evts)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.True(t, c.FromCache)
	}
	assert.True(t, chunks[1].IsFinal)
	assert.Equal(t, "org.example.app001", chunks[0].Packages[0].PackageName, "replay is in sorted order")

	complete := completeOf(t, evts)
	assert.True(t, complete.FromCache)
	assert.Zero(t, complete.DurationMs)
	assert.Equal(t, 35, complete.TotalPackages)
}

func TestStartStream_RefetchesWhenExpiredOrForced(t *testing.T) {
	f := newPackageFixture(t)
	f.script("ABC123", packageLines(3), nil)
	ctx := context.Background()
	args := bridge.ShellArgs("ABC123", listPackagesCommand)

	require.NoError(t, f.svc.StartStream(ctx, false))
	f.waitStream(t)

	require.NoError(t, f.svc.StartStream(ctx, true))
	f.waitStream(t)
	assert.Equal(t, 2, f.runner.CallCount(args...))

	f.clock.Advance(300 * time.Second)
	require.NoError(t, f.svc.StartStream(ctx, false))
	f.waitStream(t)
	assert.Equal(t, 3, f.runner.CallCount(args...))
}

func TestStartStream_DeviceSwitchTreatsCacheAsAbsent(t *testing.T) {
	f := newPackageFixture(t)
	f.script("ABC123", packageLines(3), nil)
	f.script("XYZ789", packageLines(4), nil)
	ctx := context.Background()

	require.NoError(t, f.svc.StartStream(ctx, false))
	f.waitStream(t)

	f.devices.set("XYZ789")
	_, err := f.svc.CachedPackages(ctx)
	assert.ErrorIs(t, err, ErrNoCachedPackages)

	require.NoError(t, f.svc.StartStream(ctx, false))
	evts := f.waitStream(t)
	assert.Equal(t, 1, f.runner.CallCount(bridge.ShellArgs("XYZ789", listPackagesCommand)...))
	assert.Equal(t, 4, completeOf(t, evts).TotalPackages)

	status := f.svc.CacheStatus()
	assert.Equal(t, "XYZ789", status.DeviceSerial)
	assert.Equal(t, 4, status.PackageCount)
}

func TestStartStream_FailureEmitsErrorAndSkipsCache(t *testing.T) {
	f := newPackageFixture(t)
	f.script("ABC123", packageLines(40), &bridge.Error{Kind: bridge.KindDeviceOffline})

	require.NoError(t, f.svc.StartStream(context.Background(), false))
	evts := f.waitStream(t)

	last := evts[len(evts)-1].Payload.(models.StreamProgress)
	assert.Equal(t, "Error loading packages", last.Status)
	assert.True(t, last.IsComplete)
	assert.NotEmpty(t, last.Error)

	chunks := chunksOf(evts)
	require.Len(t, chunks, 1, "emitted batches stand, no terminal batch")
	assert.False(t, chunks[0].IsFinal)

	assert.False(t, f.svc.CacheStatus().HasCache)
	_, err := f.svc.CachedPackages(context.Background())
	assert.ErrorIs(t, err, ErrNoCachedPackages)
}

func TestStartStream_NoDevice(t *testing.T) {
	f := newPackageFixture(t)
	f.devices.err = &bridge.Error{Kind: bridge.KindNoDeviceConnected}

	err := f.svc.StartStream(context.Background(), false)
	assert.ErrorIs(t, err, bridge.ErrNoDeviceConnected)
	assert.Empty(t, f.runner.Calls())
}

func TestStartStream_AfterStop(t *testing.T) {
	f := newPackageFixture(t)
	require.NoError(t, f.svc.Stop())
	assert.ErrorIs(t, f.svc.StartStream(context.Background(), true), ErrServiceStopped)
	assert.Error(t, f.svc.Stop())
}

func TestCacheStatus(t *testing.T) {
	f := newPackageFixture(t)
	assert.Equal(t, models.CacheStatus{HasCache: false}, f.svc.CacheStatus())

	f.script("ABC123", packageLines(2), nil)
	require.NoError(t, f.svc.StartStream(context.Background(), false))
	f.waitStream(t)

	f.clock.Advance(301 * time.Second)
	status := f.svc.CacheStatus()
	assert.True(t, status.HasCache)
	assert.Equal(t, int64(301), status.AgeSeconds)
	assert.True(t, status.IsExpired)

	f.svc.ClearCache()
	assert.False(t, f.svc.CacheStatus().HasCache)
}

func TestListPackages(t *testing.T) {
	f := newPackageFixture(t)
	f.runner.OnShell("ABC123", listPackagesCommand, bridgetest.Response{Output: "package:com.b.app\npackage:com.a.app\n\n"})

	records, err := f.svc.ListPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a.app", "com.b.app"}, namesOf(records))
}

func TestUninstall(t *testing.T) {
	f := newPackageFixture(t)
	ctx := context.Background()
	f.script("ABC123", packageLines(2), nil)
	require.NoError(t, f.svc.StartStream(ctx, false))
	f.waitStream(t)

	f.runner.OnShell("ABC123", "pm uninstall -k com.example.bloat", bridgetest.Response{Output: "Success\n"})
	res, err := f.svc.Uninstall(ctx, "com.example.bloat")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Successfully uninstalled com.example.bloat", res.Message)
	assert.False(t, f.svc.CacheStatus().HasCache, "a successful change drops the package cache")

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, constants.ActionUninstall, f.recorder.records[0].Action)
	assert.Equal(t, constants.OperationStatusSuccess, f.recorder.records[0].Status)
	assert.Equal(t, "ABC123", f.recorder.records[0].DeviceSerial)
}

func TestUninstall_DeviceRefusal(t *testing.T) {
	f := newPackageFixture(t)
	f.runner.OnShell("ABC123", "pm uninstall -k com.android.phone", bridgetest.Response{Output: "Failure [DELETE_FAILED_INTERNAL_ERROR]\n"})
	f.runner.OnShell("ABC123", "pm uninstall -k com.odd.reply", bridgetest.Response{Output: "hmm\n"})

	res, err := f.svc.Uninstall(context.Background(), "com.android.phone")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Failed: Failure [DELETE_FAILED_INTERNAL_ERROR]", res.Error)

	res, err = f.svc.Uninstall(context.Background(), "com.odd.reply")
	require.NoError(t, err)
	assert.Equal(t, "Unexpected response: hmm", res.Error)

	assert.Equal(t, constants.OperationStatusFailed, f.recorder.records[0].Status)
}

func TestUninstall_RejectsInvalidNames(t *testing.T) {
	f := newPackageFixture(t)
	for _, name := range []string{"", "com.x; reboot", "$(id)"} {
		res, err := f.svc.Uninstall(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidPackageName)
		assert.False(t, res.Success)
	}
	assert.Empty(t, f.runner.Calls())
	assert.Empty(t, f.recorder.records)
}

func TestUninstall_BridgeErrorIsReturned(t *testing.T) {
	f := newPackageFixture(t)
	f.runner.OnShell("ABC123", "pm uninstall -k com.x.y", bridgetest.Response{Err: &bridge.Error{Kind: bridge.KindDeviceUnauthorized}})

	res, err := f.svc.Uninstall(context.Background(), "com.x.y")
	assert.ErrorIs(t, err, bridge.ErrDeviceUnauthorized)
	assert.False(t, res.Success)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, constants.OperationStatusFailed, f.recorder.records[0].Status)
}

func TestReinstall_LenientReply(t *testing.T) {
	f := newPackageFixture(t)
	f.runner.OnShell("ABC123", "cmd package install-existing com.x.y", bridgetest.Response{Output: "Package com.x.y installed for user: 0\n"})
	f.runner.OnShell("ABC123", "cmd package install-existing com.x.z", bridgetest.Response{Output: "\n"})

	res, err := f.svc.Reinstall(context.Background(), "com.x.y")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = f.svc.Reinstall(context.Background(), "com.x.z")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, constants.ActionReinstall, f.recorder.records[1].Action)
}

func TestReinstall_FailureMentioningInstalled(t *testing.T) {
	f := newPackageFixture(t)
	f.runner.OnShell("ABC123", "cmd package install-existing com.x.y", bridgetest.Response{Output: "Failure [not installed for 0]\n"})

	res, err := f.svc.Reinstall(context.Background(), "com.x.y")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Failed: Failure [not installed for 0]", res.Error)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, constants.OperationStatusFailed, f.recorder.records[0].Status)
}

func TestStartStream_ReturnsWhileWorkersAreBusy(t *testing.T) {
	f := newPackageFixture(t)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	f.runner.OnShell("ABC123", listPackagesCommand, bridgetest.Response{
		Lines:  []string{"package:com.a.b"},
		OnLine: func(int) { <-release },
	})

	for i := 0; i < 3; i++ {
		done := make(chan error, 1)
		go func() { done <- f.svc.StartStream(context.Background(), true) }()
		select {
		case err := <-done:
			require.NoError(t, err, "call %d", i)
		case <-time.After(time.Second):
			t.Fatalf("StartStream call %d did not return while listings were running", i)
		}
	}
	listing := bridge.ShellArgs("ABC123", listPackagesCommand)
	require.Eventually(t, func() bool {
		return f.runner.CallCount(listing...) >= 2
	}, time.Second, 5*time.Millisecond, "a busy pool must not hold back a listing")

	unblock()
	require.NoError(t, f.svc.Stop())
	assert.Equal(t, 3, f.runner.CallCount(listing...))

	completed := 0
	for _, e := range f.sink.Drain() {
		if e.Name == constants.EventPackageStreamComplete {
			completed++
		}
	}
	assert.Equal(t, 3, completed, "Stop waits for every scheduled listing")
	assert.ErrorIs(t, f.svc.StartStream(context.Background(), true), ErrServiceStopped)
}

func TestPackageService_StartAfterStop(t *testing.T) {
	f := newPackageFixture(t)
	require.NoError(t, f.svc.Start())
	require.NoError(t, f.svc.Stop())
	assert.ErrorIs(t, f.svc.Start(), ErrServiceStopped)
	assert.Error(t, f.svc.Stop())
}
