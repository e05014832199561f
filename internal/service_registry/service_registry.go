package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/debloat-agent/internal/api"
	"github.com/benmeehan/debloat-agent/internal/app"
	"github.com/benmeehan/debloat-agent/internal/registry"
	"github.com/benmeehan/debloat-agent/internal/services"
	"github.com/benmeehan/debloat-agent/pkg/encryption"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new, empty service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered services in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices registers the enabled services built in c. Order matters:
// the broker connection and the stores come up before the services that
// use them, and the API last so no request reaches a stopped service.
func (sr *ServiceRegistry) RegisterServices(c *app.Components) error {
	config := c.Config
	mqttOn := config.MQTT.Enabled && c.MQTT != nil

	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "mqtt",
			enabled: mqttOn,
			constructor: func() (registry.Service, error) {
				return newMQTTConnection(c.MQTT, c.MQTTOptions(), sr.Logger), nil
			},
		},
		{
			name:    "history",
			enabled: c.History != nil,
			constructor: func() (registry.Service, error) {
				return c.History, nil
			},
		},
		{
			name:    "ws_hub",
			enabled: c.Hub != nil,
			constructor: func() (registry.Service, error) {
				return c.Hub, nil
			},
		},
		{
			name:    "packages",
			enabled: true,
			constructor: func() (registry.Service, error) {
				return c.Packages, nil
			},
		},
		{
			name:    "health",
			enabled: true,
			constructor: func() (registry.Service, error) {
				return c.Health, nil
			},
		},
		{
			name:    "heartbeat",
			enabled: mqttOn && config.MQTT.Heartbeat.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewHeartbeatService(
					config.MQTT.TopicPrefix,
					config.MQTT.Heartbeat.Interval,
					c.AgentInfo,
					config.MQTT.QOS,
					c.MQTT,
					c.Devices,
					c.Packages,
					sr.Logger.With().Str("service", "heartbeat").Logger(),
				), nil
			},
		},
		{
			name:    "command",
			enabled: mqttOn && config.MQTT.Command.Enabled,
			constructor: func() (registry.Service, error) {
				cs := services.NewCommandService(
					config.MQTT.TopicPrefix,
					config.MQTT.QOS,
					config.MQTT.Command.MaxExecutionTime,
					c.MQTT,
					c.AgentInfo,
					c.Packages,
					c.Health,
					c.Backups,
					sr.Logger.With().Str("service", "command").Logger(),
				)
				if keyFile := config.MQTT.Command.SigningKeyFile; keyFile != "" {
					signer := encryption.NewSigningManager(c.FileClient)
					if err := signer.Initialize(keyFile); err != nil {
						return nil, err
					}
					cs.SetSigner(signer)
				}
				return cs, nil
			},
		},
		{
			name:    "api",
			enabled: config.API.Enabled,
			constructor: func() (registry.Service, error) {
				deps := api.Deps{
					Devices:  c.Devices,
					Packages: c.Packages,
					Health:   c.Health,
					Backups:  c.Backups,
					Catalog:  c.Catalog,
					Server:   c.Server,
					Hub:      c.Hub,
				}
				if c.History != nil {
					deps.History = c.History
				}
				return api.NewServer(deps, api.Options{
					Listen:    config.API.Listen,
					RateLimit: config.API.RateLimit,
					Burst:     config.API.Burst,
				}, sr.Logger.With().Str("service", "api").Logger()), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
