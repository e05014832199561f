package services

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/cache"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/benmeehan/debloat-agent/internal/state_managers"
	"github.com/benmeehan/debloat-agent/internal/storage"
	"github.com/benmeehan/debloat-agent/internal/utils"
	"github.com/benmeehan/debloat-agent/pkg/file"
	http_utils "github.com/benmeehan/debloat-agent/pkg/httpUtils"
	"github.com/benmeehan/debloat-agent/pkg/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidBackupName rejects names that are not plain backup filenames.
	ErrInvalidBackupName = errors.New("invalid backup file")
	// ErrBackupNotFound is returned for a backup that does not exist.
	ErrBackupNotFound = errors.New("backup not found")
	// ErrEmptyBackup is returned when asked to back up no packages.
	ErrEmptyBackup = errors.New("no packages to back up")
	// ErrBackupExists is returned when an import would overwrite a backup.
	ErrBackupExists = errors.New("backup already exists")
	// ErrInvalidBackupURL rejects import sources that are not http(s) URLs.
	ErrInvalidBackupURL = errors.New("invalid backup url")
)

const maxImportBytes = 1 << 20

// CacheInvalidator drops cached device state after packages change.
type CacheInvalidator interface {
	ClearCache()
}

// BackupService writes, lists and restores package backups. A backup is a
// JSON file listing removed packages so they can be reinstalled later.
type BackupService struct {
	dir        string
	runner     bridge.Runner
	devices    DeviceSource
	fileClient file.FileOperations
	states     *state_managers.OperationStateManager
	history    storage.Recorder
	packages   CacheInvalidator
	logger     zerolog.Logger
	now        cache.Clock

	objects      s3.ObjectStorageClient
	bucket       string
	objectPrefix string

	restoreMu sync.Mutex
}

// BackupServiceOptions configures a BackupService. Objects may be nil to
// keep backups local only.
type BackupServiceOptions struct {
	Dir          string
	Objects      s3.ObjectStorageClient
	Bucket       string
	ObjectPrefix string
	States       *state_managers.OperationStateManager
	History      storage.Recorder
	Packages     CacheInvalidator
}

// DefaultBackupDir returns <home>/Documents/AndroidDebloater/backups.
func DefaultBackupDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "Documents", "AndroidDebloater", "backups")
}

// NewBackupService creates a BackupService.
func NewBackupService(runner bridge.Runner, devices DeviceSource, fileClient file.FileOperations, opts BackupServiceOptions, logger zerolog.Logger) *BackupService {
	if opts.Dir == "" {
		opts.Dir = DefaultBackupDir()
	}
	return &BackupService{
		dir:          opts.Dir,
		runner:       runner,
		devices:      devices,
		fileClient:   fileClient,
		states:       opts.States,
		history:      opts.History,
		packages:     opts.Packages,
		logger:       logger,
		now:          time.Now,
		objects:      opts.Objects,
		bucket:       opts.Bucket,
		objectPrefix: opts.ObjectPrefix,
	}
}

// SetClock replaces the time source.
func (b *BackupService) SetClock(clock cache.Clock) {
	b.now = clock
}

// Path returns the backup directory, creating it when missing.
func (b *BackupService) Path() (string, error) {
	if err := b.fileClient.EnsureDir(b.dir); err != nil {
		return "", errors.Wrap(err, "failed to create backup directory")
	}
	return b.dir, nil
}

// Create writes a backup of packages, named after the current time, and
// uploads it when object storage is configured. A failed upload is logged
// and leaves the local backup in place.
func (b *BackupService) Create(ctx context.Context, packages []string) (models.BackupResult, error) {
	packages = utils.Unique(packages)
	if len(packages) == 0 {
		return models.BackupResult{Success: false, Error: ErrEmptyBackup.Error()}, ErrEmptyBackup
	}
	for _, pkg := range packages {
		if !utils.IsValidPackageName(pkg) {
			err := errors.Wrapf(ErrInvalidPackageName, "%q", pkg)
			return models.BackupResult{Success: false, Error: err.Error()}, err
		}
	}

	dir, err := b.Path()
	if err != nil {
		return models.BackupResult{Success: false, Error: err.Error()}, err
	}

	now := b.now().UTC()
	data := models.BackupData{
		Version:    constants.BackupFormatVersion,
		Timestamp:  now.Format(time.RFC3339),
		DeviceName: b.deviceName(ctx),
		Packages:   packages,
	}
	filename := constants.BackupFilenamePrefix + now.Format(constants.BackupFilenameLayout) + constants.BackupFilenameExtension
	path := filepath.Join(dir, filename)

	if err := b.fileClient.WriteJsonFile(path, data); err != nil {
		err = errors.Wrap(err, "failed to write backup file")
		return models.BackupResult{Success: false, Error: err.Error()}, err
	}

	result := models.BackupResult{Success: true, Filename: filename, Path: path}
	if b.objects != nil {
		result.ObjectURL = b.upload(ctx, path, filename)
	}

	b.recordBackup(ctx, filename, len(packages))
	b.logger.Info().Str("file", filename).Int("packages", len(packages)).Str("device", data.DeviceName).Msg("Backup created")
	return result, nil
}

func (b *BackupService) upload(ctx context.Context, path, filename string) string {
	hash, err := b.fileClient.GetFileHash(path)
	if err != nil {
		b.logger.Warn().Err(err).Str("file", filename).Msg("Failed to hash backup")
	}
	info, err := b.objects.UploadFile(ctx, b.bucket, b.objectPrefix+filename, path, "application/json")
	if err != nil {
		b.logger.Warn().Err(err).Str("file", filename).Str("bucket", b.bucket).Msg("Backup upload failed")
		return ""
	}
	b.logger.Info().Str("object", info.ObjectName).Int64("size", info.Size).Str("sha256", hash).Msg("Backup uploaded")
	return info.PresignedURL
}

func (b *BackupService) recordBackup(ctx context.Context, filename string, count int) {
	if b.history == nil {
		return
	}
	serial, _ := b.devices.DefaultSerial(ctx)
	err := b.history.Record(ctx, models.ActionRecord{
		Action:       constants.ActionBackup,
		DeviceSerial: serial,
		Status:       constants.OperationStatusSuccess,
		Message:      fmt.Sprintf("%s (%d packages)", filename, count),
	})
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to record action history")
	}
}

// deviceName reads the product model, falling back to "Unknown Device".
func (b *BackupService) deviceName(ctx context.Context) string {
	serial, err := b.devices.DefaultSerial(ctx)
	if err != nil {
		return constants.UnknownDeviceName
	}
	out, err := bridge.Shell(ctx, b.runner, serial, "getprop ro.product.model")
	if err != nil {
		return constants.UnknownDeviceName
	}
	if name := strings.TrimSpace(out); name != "" {
		return name
	}
	return constants.UnknownDeviceName
}

// List returns the readable backups, newest first. Files that cannot be
// read or decoded are skipped.
func (b *BackupService) List() ([]models.BackupInfo, error) {
	dir, err := b.Path()
	if err != nil {
		return nil, err
	}
	names, err := b.fileClient.ListFiles(dir, constants.BackupFilenameExtension)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read backup directory")
	}

	backups := make([]models.BackupInfo, 0, len(names))
	for _, name := range names {
		var data models.BackupData
		if err := b.fileClient.ReadJsonFile(filepath.Join(dir, name), &data); err != nil {
			b.logger.Debug().Err(err).Str("file", name).Msg("Skipping unreadable backup")
			continue
		}
		backups = append(backups, models.BackupInfo{
			Filename:   name,
			Date:       data.Timestamp,
			Count:      len(data.Packages),
			DeviceName: data.DeviceName,
		})
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if backups[i].Date != backups[j].Date {
			return backups[i].Date > backups[j].Date
		}
		return backups[i].Filename > backups[j].Filename
	})
	return backups, nil
}

// Load reads one backup file.
func (b *BackupService) Load(filename string) (models.BackupData, error) {
	path, err := b.resolve(filename)
	if err != nil {
		return models.BackupData{}, err
	}
	var data models.BackupData
	if err := b.fileClient.ReadJsonFile(path, &data); err != nil {
		if os.IsNotExist(err) {
			return models.BackupData{}, ErrBackupNotFound
		}
		return models.BackupData{}, errors.Wrap(err, "failed to parse backup file")
	}
	return data, nil
}

// Restore reinstalls every package in the backup. Progress is journaled so
// an interrupted restore is visible after a restart. Per-package failures
// are collected in the result; the error is reserved for a backup that
// cannot be read or a device that cannot be reached. One restore runs at a
// time.
func (b *BackupService) Restore(ctx context.Context, filename string) (models.RestoreResult, error) {
	data, err := b.Load(filename)
	if err != nil {
		return models.RestoreResult{Success: false, Errors: []string{err.Error()}}, err
	}
	serial, err := b.devices.DefaultSerial(ctx)
	if err != nil {
		return models.RestoreResult{Success: false, Errors: []string{err.Error()}}, err
	}

	b.restoreMu.Lock()
	defer b.restoreMu.Unlock()

	state := models.OperationState{
		ExecutionID: uuid.NewString(),
		Action:      constants.ActionRestore,
		Source:      filename,
		Total:       len(data.Packages),
		Status:      constants.OperationStatusInProgress,
	}
	b.journal(state)

	result := models.RestoreResult{Errors: []string{}}
	for _, pkg := range data.Packages {
		if err := b.reinstall(ctx, serial, pkg); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", pkg, err))
			b.record(ctx, serial, pkg, constants.OperationStatusFailed, err.Error())
		} else {
			result.Restored++
			b.record(ctx, serial, pkg, constants.OperationStatusSuccess, "restored from "+filename)
		}
		state.Done++
		b.journal(state)
	}
	result.Success = result.Failed == 0

	state.Status = constants.OperationStatusSuccess
	if !result.Success {
		state.Status = constants.OperationStatusFailed
	}
	b.journal(state)

	if result.Restored > 0 && b.packages != nil {
		b.packages.ClearCache()
	}
	b.logger.Info().Str("file", filename).Int("restored", result.Restored).Int("failed", result.Failed).Msg("Restore finished")
	return result, nil
}

func (b *BackupService) reinstall(ctx context.Context, serial, pkg string) error {
	if !utils.IsValidPackageName(pkg) {
		return ErrInvalidPackageName
	}
	out, err := bridge.Shell(ctx, b.runner, serial, "cmd package install-existing "+pkg)
	if err != nil {
		return err
	}
	if res := interpretPackageOutput(out, pkg, "reinstalled", true); !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func (b *BackupService) journal(state models.OperationState) {
	if b.states == nil {
		return
	}
	if err := b.states.UpdateOperationState(state); err != nil {
		b.logger.Warn().Err(err).Str("execution_id", state.ExecutionID).Msg("Failed to journal restore progress")
	}
}

func (b *BackupService) record(ctx context.Context, serial, pkg, status, message string) {
	if b.history == nil {
		return
	}
	err := b.history.Record(ctx, models.ActionRecord{
		Action:       constants.ActionRestore,
		DeviceSerial: serial,
		PackageName:  pkg,
		Status:       status,
		Message:      message,
	})
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to record action history")
	}
}

// Delete removes a backup file and its uploaded copy.
func (b *BackupService) Delete(ctx context.Context, filename string) error {
	path, err := b.resolve(filename)
	if err != nil {
		return err
	}
	if err := b.fileClient.RemoveFile(path); err != nil {
		if os.IsNotExist(err) {
			return ErrBackupNotFound
		}
		return errors.Wrap(err, "failed to delete backup file")
	}
	if b.objects != nil {
		if err := b.objects.RemoveFile(ctx, b.bucket, b.objectPrefix+filename); err != nil {
			b.logger.Warn().Err(err).Str("file", filename).Msg("Failed to remove uploaded backup")
		}
	}
	b.logger.Info().Str("file", filename).Msg("Backup deleted")
	return nil
}

// Import downloads a backup, such as an uploaded copy behind a presigned
// URL, into the backup directory under the URL's file name. The download is
// discarded unless it decodes as a backup of valid package names.
func (b *BackupService) Import(ctx context.Context, rawURL string) (models.BackupInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.BackupInfo{}, ErrInvalidBackupURL
	}
	name := path.Base(u.Path)
	target, err := b.resolve(name)
	if err != nil {
		return models.BackupInfo{}, err
	}
	if _, err := b.Path(); err != nil {
		return models.BackupInfo{}, err
	}
	if exists, err := b.fileClient.IsFileExists(target); err != nil {
		return models.BackupInfo{}, errors.Wrap(err, "failed to check backup file")
	} else if exists {
		return models.BackupInfo{}, ErrBackupExists
	}

	if err := http_utils.DownloadFileByPresignedURL(ctx, rawURL, target, maxImportBytes); err != nil {
		return models.BackupInfo{}, errors.Wrap(err, "failed to download backup")
	}

	data, err := b.Load(name)
	if err == nil && (data.Version == "" || len(data.Packages) == 0) {
		err = errors.New("not a backup file")
	}
	if err == nil {
		for _, pkg := range data.Packages {
			if !utils.IsValidPackageName(pkg) {
				err = errors.Wrapf(ErrInvalidPackageName, "%q", pkg)
				break
			}
		}
	}
	if err != nil {
		if rmErr := b.fileClient.RemoveFile(target); rmErr != nil {
			b.logger.Warn().Err(rmErr).Str("file", name).Msg("Failed to discard rejected import")
		}
		return models.BackupInfo{}, errors.Wrap(err, "rejected imported backup")
	}

	b.logger.Info().Str("file", name).Str("host", u.Host).Int("packages", len(data.Packages)).Msg("Backup imported")
	return models.BackupInfo{Filename: name, Date: data.Timestamp, Count: len(data.Packages), DeviceName: data.DeviceName}, nil
}

// resolve maps a backup filename to its path, rejecting anything that is not
// a plain .json name inside the backup directory.
func (b *BackupService) resolve(filename string) (string, error) {
	if filename == "" ||
		filename != filepath.Base(filename) ||
		strings.ContainsAny(filename, `/\`) ||
		strings.Contains(filename, "..") ||
		!strings.HasSuffix(filename, constants.BackupFilenameExtension) {
		return "", ErrInvalidBackupName
	}
	return filepath.Join(b.dir, filename), nil
}
