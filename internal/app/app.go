// Package app assembles the agent's components from configuration.
package app

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/catalog"
	"github.com/benmeehan/debloat-agent/internal/devices"
	"github.com/benmeehan/debloat-agent/internal/events"
	mc "github.com/benmeehan/debloat-agent/internal/metrics_collectors"
	"github.com/benmeehan/debloat-agent/internal/services"
	"github.com/benmeehan/debloat-agent/internal/state_managers"
	"github.com/benmeehan/debloat-agent/internal/storage"
	"github.com/benmeehan/debloat-agent/internal/utils"
	"github.com/benmeehan/debloat-agent/pkg/file"
	"github.com/benmeehan/debloat-agent/pkg/identity"
	"github.com/benmeehan/debloat-agent/pkg/mqtt"
	"github.com/benmeehan/debloat-agent/pkg/s3"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Components holds everything built from one configuration. Optional parts
// are nil when disabled.
type Components struct {
	Config     *utils.Config
	Logger     zerolog.Logger
	FileClient file.FileOperations

	Locator  *bridge.Locator
	Executor *bridge.Executor
	Server   *bridge.ServerControl
	Devices  *devices.Registry
	Catalog  *catalog.Catalog

	History *storage.History
	States  *state_managers.OperationStateManager

	Hub  *events.Hub
	Sink events.Sink

	Packages *services.PackageService
	Health   *services.HealthService
	Backups  *services.BackupService

	AgentInfo identity.AgentInfoInterface
	MQTT      *mqtt.MqttService
	Objects   s3.ObjectStorageClient
}

// Options selects the optional parts a caller needs. The CLI builds without
// the hub and without MQTT; serve builds everything the config enables.
type Options struct {
	Serve bool
	// Sinks receive every event in addition to the defaults.
	Sinks []events.Sink
}

// Build creates the components. Nothing is started and no broker is
// contacted; object storage is connected when enabled since backups upload
// synchronously.
func Build(ctx context.Context, config *utils.Config, opts Options, logger zerolog.Logger) (*Components, error) {
	c := &Components{
		Config:     config,
		Logger:     logger,
		FileClient: file.NewFileService(),
		Catalog:    catalog.Default(),
	}

	c.Locator = bridge.NewLocator(config.Bridge.ADBPath, logger.With().Str("component", "locator").Logger())
	c.Executor = bridge.NewExecutor(c.Locator, config.Bridge.CommandTimeout, config.Bridge.StreamTimeout, logger.With().Str("component", "executor").Logger())
	c.Server = bridge.NewServerControl(c.Executor, logger.With().Str("component", "server").Logger())
	c.Devices = devices.NewRegistry(c.Executor, config.Cache.DeviceTTL, logger.With().Str("component", "devices").Logger())

	if config.History.Enabled {
		history, err := storage.OpenHistory(config.History.Path, logger.With().Str("component", "history").Logger())
		if err != nil {
			return nil, err
		}
		c.History = history
	}
	c.States = state_managers.NewOperationStateManager(config.State.OperationsFile, c.FileClient, logger.With().Str("component", "operations").Logger())

	sinks := events.MultiSink{events.LogSink{Logger: logger.With().Str("component", "events").Logger()}}
	if opts.Serve {
		c.Hub = events.NewHub(logger.With().Str("component", "ws").Logger())
		sinks = append(sinks, c.Hub)

		if config.MQTT.Enabled {
			if err := c.buildMQTT(); err != nil {
				c.Close()
				return nil, err
			}
			if config.MQTT.Events {
				sinks = append(sinks, events.NewMQTTSink(c.MQTT, config.MQTT.TopicPrefix, c.AgentInfo.GetAgentID(), config.MQTT.QOS, logger.With().Str("component", "mqtt-events").Logger()))
			}
		}
	}
	sinks = append(sinks, opts.Sinks...)
	c.Sink = sinks

	if config.Backup.S3.Enabled {
		objects := s3.NewObjectStorage()
		if err := objects.Connect(ctx, config.Backup.S3.Endpoint, config.Backup.S3.AccessKey, config.Backup.S3.SecretKey, config.Backup.S3.UseSSL); err != nil {
			c.Close()
			return nil, pkgerrors.Wrap(err, "object storage")
		}
		c.Objects = objects
	}

	// A nil *storage.History must not reach the services as a non-nil interface.
	var recorder storage.Recorder
	if c.History != nil {
		recorder = c.History
	}

	c.Packages = services.NewPackageService(c.Executor, c.Devices, c.Catalog, c.Sink, recorder, services.PackageServiceOptions{
		CacheTTL:    config.Cache.PackageTTL,
		ChunkSize:   config.Stream.ChunkSize,
		WorkerCount: config.Stream.Workers,
	}, logger.With().Str("service", "packages").Logger())

	ttl := config.Health.TTL
	c.Health = services.NewHealthService(c.Executor, mc.NewDefaultRegistry(mc.TTLs{
		Storage:   ttl.Storage,
		Memory:    ttl.Memory,
		CPU:       ttl.CPU,
		Services:  ttl.Services,
		AppCounts: ttl.AppCounts,
		Thermal:   ttl.Thermal,
		Battery:   ttl.Battery,
	}, logger.With().Str("component", "metrics").Logger()), c.Sink, services.HealthServiceOptions{
		AutoMonitor:     config.Health.Monitor,
		MonitorInterval: config.Health.Interval,
	}, logger.With().Str("service", "health").Logger())

	backupOpts := services.BackupServiceOptions{
		Dir:          config.Backup.Dir,
		Bucket:       config.Backup.S3.Bucket,
		ObjectPrefix: config.Backup.S3.Prefix,
		States:       c.States,
		History:      recorder,
		Packages:     c.Packages,
	}
	if c.Objects != nil {
		backupOpts.Objects = c.Objects
	}
	c.Backups = services.NewBackupService(c.Executor, c.Devices, c.FileClient, backupOpts, logger.With().Str("service", "backups").Logger())

	return c, nil
}

func (c *Components) buildMQTT() error {
	c.AgentInfo = identity.NewAgentInfo(c.Config.Identity.AgentFile, c.FileClient)
	if err := c.AgentInfo.LoadAgentInfo(); err != nil {
		return pkgerrors.Wrap(err, "failed to load agent identity")
	}
	if err := c.FileClient.EnsureDir(filepath.Dir(c.Config.Identity.AgentFile)); err != nil {
		return pkgerrors.Wrap(err, "failed to create identity directory")
	}
	agentID, err := c.AgentInfo.EnsureAgentID()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to persist agent identity")
	}
	if c.Config.MQTT.ClientID == "" {
		c.Config.MQTT.ClientID = agentID
	}
	c.MQTT = mqtt.NewMqttService(c.FileClient)
	return nil
}

// MQTTOptions are the broker settings for the connection service.
func (c *Components) MQTTOptions() mqtt.Options {
	m := c.Config.MQTT
	return mqtt.Options{
		Broker:        m.Broker,
		ClientID:      m.ClientID,
		Username:      m.Username,
		Password:      m.Password,
		CACertificate: m.CACertificate,
		SkipVerify:    m.SkipVerify,
		ConnectWait:   m.ConnectWait,
	}
}

// Close releases what Build opened and stops background workers. It is for
// callers that never handed the components to a service registry.
func (c *Components) Close() error {
	var errs []error
	if c.Packages != nil {
		// Stop only fails when already stopped.
		_ = c.Packages.Stop()
	}
	if c.Health != nil {
		c.Health.StopMonitor()
	}
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
