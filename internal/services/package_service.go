package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/cache"
	"github.com/benmeehan/debloat-agent/internal/catalog"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/benmeehan/debloat-agent/internal/storage"
	"github.com/benmeehan/debloat-agent/internal/utils"
	"github.com/rs/zerolog"
)

const listPackagesCommand = "pm list packages -a"

var (
	// ErrNoCachedPackages is returned when no valid package list is cached
	// for the current device.
	ErrNoCachedPackages = errors.New("no cached packages available")
	// ErrInvalidPackageName rejects names that are not package identifiers.
	ErrInvalidPackageName = errors.New("invalid package name")
	// ErrServiceStopped is returned when work is requested after Stop.
	ErrServiceStopped = errors.New("service is stopped")
)

// DeviceSource picks the device commands are sent to.
type DeviceSource interface {
	DefaultSerial(ctx context.Context) (string, error)
}

// PackageService enumerates installed packages and removes or restores them.
// A full listing is cached per device so repeated requests replay it without
// touching the device.
type PackageService struct {
	runner    bridge.Runner
	devices   DeviceSource
	catalog   *catalog.Catalog
	sink      events.Sink
	history   storage.Recorder
	ttl       time.Duration
	chunkSize int
	now       cache.Clock
	logger    zerolog.Logger

	slot       cache.Slot[[]models.PackageRecord]
	workerPool *utils.WorkerPool

	workers    int
	// jobs counts scheduled listings, including overflow ones run outside the pool.
	jobs sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// PackageServiceOptions tunes a PackageService. Zero values use defaults.
type PackageServiceOptions struct {
	CacheTTL    time.Duration
	ChunkSize   int
	WorkerCount int
}

// NewPackageService creates a PackageService. history may be nil.
func NewPackageService(
	runner bridge.Runner,
	devices DeviceSource,
	cat *catalog.Catalog,
	sink events.Sink,
	history storage.Recorder,
	opts PackageServiceOptions,
	logger zerolog.Logger,
) *PackageService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = constants.DefaultPackageCacheTTL
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = constants.PackageChunkSize
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = constants.DefaultWorkerPoolSize
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if cat == nil {
		cat = catalog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PackageService{
		runner:     runner,
		devices:    devices,
		catalog:    cat,
		sink:       sink,
		history:    history,
		ttl:        opts.CacheTTL,
		chunkSize:  opts.ChunkSize,
		now:        time.Now,
		logger:     logger,
		workerPool: utils.NewWorkerPool(opts.WorkerCount),
		workers:    opts.WorkerCount,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetClock replaces the time source.
func (p *PackageService) SetClock(clock cache.Clock) {
	p.now = clock
}

// Start reports whether the service can take listings. The worker pool is
// created with the service so listings can be scheduled before Start; a
// stopped service cannot be started again.
func (p *PackageService) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return ErrServiceStopped
	}
	p.logger.Info().Int("workers", p.workers).Msg("PackageService started")
	return nil
}

// Stop cancels running listings and waits for the workers to exit.
func (p *PackageService) Stop() error {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return errors.New("package service is not running")
	}
	p.cancel()
	p.mu.Unlock()

	p.workerPool.Shutdown()
	p.jobs.Wait()
	p.logger.Info().Msg("PackageService stopped")
	return nil
}

// StartStream begins delivering the package list of the default device as
// package_chunk events. A fresh cached list for the same device is replayed
// immediately; otherwise a listing is scheduled and StartStream returns
// without waiting for it.
func (p *PackageService) StartStream(ctx context.Context, force bool) error {
	serial, err := p.devices.DefaultSerial(ctx)
	if err != nil {
		return err
	}

	if !force {
		if cached, ok := p.slot.Get(p.now(), serial); ok {
			p.logger.Debug().Str("serial", serial).Int("count", len(cached)).Msg("Replaying cached package list")
			p.replay(cached)
			return nil
		}
	}

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return ErrServiceStopped
	}
	p.jobs.Add(1)
	p.mu.Unlock()

	job := func() {
		defer p.jobs.Done()
		p.stream(serial)
	}
	switch err := p.workerPool.TrySubmit(job); {
	case err == nil:
	case errors.Is(err, utils.ErrPoolBusy):
		p.logger.Debug().Str("serial", serial).Msg("Worker pool busy, listing on a dedicated goroutine")
		go job()
	default:
		p.jobs.Done()
		return ErrServiceStopped
	}
	return nil
}

func (p *PackageService) replay(records []models.PackageRecord) {
	p.emitProgress("Loading from cache...", 0, false, "")
	p.emitBatches(records, true)
	p.sink.Emit(constants.EventPackageStreamComplete, models.StreamComplete{
		TotalPackages: len(records),
		DurationMs:    0,
		FromCache:     true,
	})
	p.emitProgress(fmt.Sprintf("Loaded %d packages (cached)", len(records)), len(records), true, "")
}

// emitBatches emits full batches as non-final and then the remainder, which
// may be empty, as the terminal batch.
func (p *PackageService) emitBatches(records []models.PackageRecord, fromCache bool) {
	index := 0
	for start := 0; start+p.chunkSize <= len(records); start += p.chunkSize {
		p.emitChunk(records[start:start+p.chunkSize], index, start+p.chunkSize, false, fromCache)
		index++
		runtime.Gosched()
	}
	rest := records[index*p.chunkSize:]
	p.emitChunk(rest, index, len(records), true, fromCache)
}

func (p *PackageService) stream(serial string) {
	start := p.now()
	p.emitProgress("Starting package scan...", 0, false, "")

	all := make([]models.PackageRecord, 0, 256)
	batch := make([]models.PackageRecord, 0, p.chunkSize)
	index := 0

	err := p.runner.Stream(p.ctx, func(line string) {
		name, ok := parsePackageLine(line)
		if !ok {
			return
		}
		record := p.catalog.Classify(name)
		all = append(all, record)
		batch = append(batch, record)

		if len(batch) == p.chunkSize {
			p.emitChunk(batch, index, len(all), false, false)
			p.emitProgress(fmt.Sprintf("Loading packages... (%d)", len(all)), len(all), false, "")
			index++
			batch = make([]models.PackageRecord, 0, p.chunkSize)
			runtime.Gosched()
		}
	}, bridge.ShellArgs(serial, listPackagesCommand)...)
	if err != nil {
		p.logger.Error().Err(err).Str("serial", serial).Int("loaded", len(all)).Msg("Package stream failed")
		p.emitProgress("Error loading packages", len(all), true, err.Error())
		return
	}

	p.emitChunk(batch, index, len(all), true, false)

	sortRecords(all)
	p.slot.Set(cache.Entry[[]models.PackageRecord]{
		Value:      all,
		CapturedAt: p.now(),
		TTL:        p.ttl,
		Owner:      serial,
	})

	elapsed := p.now().Sub(start)
	p.sink.Emit(constants.EventPackageStreamComplete, models.StreamComplete{
		TotalPackages: len(all),
		DurationMs:    elapsed.Milliseconds(),
		FromCache:     false,
	})
	p.emitProgress(fmt.Sprintf("Loaded %d packages", len(all)), len(all), true, "")
	p.logger.Info().Str("serial", serial).Int("count", len(all)).Dur("elapsed", elapsed).Msg("Package stream complete")
}

func (p *PackageService) emitChunk(records []models.PackageRecord, index, totalSoFar int, final, fromCache bool) {
	p.sink.Emit(constants.EventPackageChunk, models.PackageChunk{
		Packages:   append(make([]models.PackageRecord, 0, len(records)), records...),
		ChunkIndex: index,
		TotalSoFar: totalSoFar,
		IsFinal:    final,
		FromCache:  fromCache,
	})
}

func (p *PackageService) emitProgress(status string, loaded int, complete bool, errMsg string) {
	p.sink.Emit(constants.EventPackageStreamProgress, models.StreamProgress{
		Status:         status,
		PackagesLoaded: loaded,
		IsComplete:     complete,
		Error:          errMsg,
	})
}

// CachedPackages returns the cached list when it is fresh and belongs to the
// current default device.
func (p *PackageService) CachedPackages(ctx context.Context) ([]models.PackageRecord, error) {
	serial, err := p.devices.DefaultSerial(ctx)
	if err != nil {
		return nil, err
	}
	cached, ok := p.slot.Get(p.now(), serial)
	if !ok {
		return nil, ErrNoCachedPackages
	}
	return append([]models.PackageRecord(nil), cached...), nil
}

// CacheStatus describes the cached list without validating its device.
func (p *PackageService) CacheStatus() models.CacheStatus {
	entry, ok := p.slot.Peek()
	if !ok {
		return models.CacheStatus{HasCache: false}
	}
	now := p.now()
	return models.CacheStatus{
		HasCache:     true,
		PackageCount: len(entry.Value),
		DeviceSerial: entry.Owner,
		AgeSeconds:   int64(entry.Age(now) / time.Second),
		IsExpired:    entry.Expired(now),
	}
}

// ClearCache drops the cached list.
func (p *PackageService) ClearCache() {
	p.slot.Clear()
}

// ListPackages lists and classifies every package synchronously, sorted by
// package name. The cache is not consulted.
func (p *PackageService) ListPackages(ctx context.Context) ([]models.PackageRecord, error) {
	serial, err := p.devices.DefaultSerial(ctx)
	if err != nil {
		return nil, err
	}
	out, err := bridge.Shell(ctx, p.runner, serial, listPackagesCommand)
	if err != nil {
		return nil, err
	}

	records := make([]models.PackageRecord, 0)
	for _, line := range strings.Split(out, "\n") {
		if name, ok := parsePackageLine(line); ok {
			records = append(records, p.catalog.Classify(name))
		}
	}
	sortRecords(records)
	return records, nil
}

// Uninstall removes a package for the current user, keeping its data. A
// refusal reported by the device is a failed result, not an error.
func (p *PackageService) Uninstall(ctx context.Context, pkg string) (models.UninstallResult, error) {
	return p.changePackage(ctx, constants.ActionUninstall, pkg, "pm uninstall -k "+pkg, "uninstalled", false)
}

// Reinstall restores a package removed for the current user.
func (p *PackageService) Reinstall(ctx context.Context, pkg string) (models.UninstallResult, error) {
	return p.changePackage(ctx, constants.ActionReinstall, pkg, "cmd package install-existing "+pkg, "reinstalled", true)
}

func (p *PackageService) changePackage(ctx context.Context, action, pkg, command, verb string, lenient bool) (models.UninstallResult, error) {
	if !utils.IsValidPackageName(pkg) {
		return models.UninstallResult{Success: false, Error: "Package name is not valid"}, ErrInvalidPackageName
	}
	serial, err := p.devices.DefaultSerial(ctx)
	if err != nil {
		return models.UninstallResult{Success: false, Error: err.Error()}, err
	}

	out, err := bridge.Shell(ctx, p.runner, serial, command)
	if err != nil {
		p.record(ctx, action, serial, pkg, constants.OperationStatusFailed, err.Error())
		return models.UninstallResult{Success: false, Error: err.Error()}, err
	}

	result := interpretPackageOutput(out, pkg, verb, lenient)
	status := constants.OperationStatusFailed
	message := result.Error
	if result.Success {
		status = constants.OperationStatusSuccess
		message = result.Message
		p.ClearCache()
	}
	p.record(ctx, action, serial, pkg, status, message)
	p.logger.Info().Str("action", action).Str("package", pkg).Bool("success", result.Success).Msg("Package change finished")
	return result, nil
}

// interpretPackageOutput reads the package manager reply. A "failure" reply
// is always an error, even when it mentions "installed". install-existing
// wording differs across devices, so reinstall treats a reply carrying
// neither word as success.
func interpretPackageOutput(out, pkg, verb string, lenient bool) models.UninstallResult {
	lower := strings.ToLower(out)
	trimmed := strings.TrimSpace(out)
	switch {
	case strings.Contains(lower, "failure"):
		return models.UninstallResult{Success: false, Error: "Failed: " + trimmed}
	case strings.Contains(lower, "success"):
		return models.UninstallResult{Success: true, Message: fmt.Sprintf("Successfully %s %s", verb, pkg)}
	case lenient:
		return models.UninstallResult{Success: true, Message: fmt.Sprintf("Successfully %s %s", verb, pkg)}
	}
	return models.UninstallResult{Success: false, Error: "Unexpected response: " + trimmed}
}

func (p *PackageService) record(ctx context.Context, action, serial, pkg, status, message string) {
	if p.history == nil {
		return
	}
	err := p.history.Record(ctx, models.ActionRecord{
		Action:       action,
		DeviceSerial: serial,
		PackageName:  pkg,
		Status:       status,
		Message:      message,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record action history")
	}
}

func parsePackageLine(line string) (string, bool) {
	name, ok := strings.CutPrefix(strings.TrimSpace(line), "package:")
	if !ok {
		return "", false
	}
	name = strings.TrimSpace(name)
	return name, name != ""
}

func sortRecords(records []models.PackageRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].PackageName < records[j].PackageName
	})
}
