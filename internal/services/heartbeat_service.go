package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/benmeehan/debloat-agent/pkg/identity"
	"github.com/benmeehan/debloat-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

// HeartbeatService manages periodic heartbeat messages.
type HeartbeatService struct {
	Prefix     string
	Interval   time.Duration
	AgentInfo  identity.AgentInfoInterface
	QOS        int
	MqttClient mqtt.MQTTClient
	Devices    DeviceSource
	Packages   *PackageService
	Logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService. packages may be nil.
func NewHeartbeatService(prefix string, interval time.Duration, agentInfo identity.AgentInfoInterface,
	qos int, mqttClient mqtt.MQTTClient, devices DeviceSource, packages *PackageService, logger zerolog.Logger) *HeartbeatService {
	if interval <= 0 {
		interval = constants.DefaultHeartbeatInterval * time.Second
	}
	return &HeartbeatService{
		Prefix:     strings.TrimSuffix(prefix, "/"),
		Interval:   interval,
		AgentInfo:  agentInfo,
		QOS:        qos,
		MqttClient: mqttClient,
		Devices:    devices,
		Packages:   packages,
		Logger:     logger,
	}
}

// Topic is the topic heartbeats are published on.
func (h *HeartbeatService) Topic() string {
	return fmt.Sprintf("%s/%s/%s", h.Prefix, h.AgentInfo.GetAgentID(), constants.HeartbeatTopicSuffix)
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("topic", h.Topic()).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

// runHeartbeatLoop sends one heartbeat immediately and then one per interval.
func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		h.publish(h.ctx)

		select {
		case <-ticker.C:
		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

// Build assembles the current heartbeat.
func (h *HeartbeatService) Build(ctx context.Context) models.Heartbeat {
	hb := models.Heartbeat{
		AgentID:   h.AgentInfo.GetAgentID(),
		Timestamp: time.Now().UTC(),
		Status:    constants.StatusAlive,
	}
	if h.Devices != nil {
		if serial, err := h.Devices.DefaultSerial(ctx); err == nil {
			hb.DeviceSerial = serial
			hb.DeviceConnected = true
		}
	}
	if h.Packages != nil {
		if status := h.Packages.CacheStatus(); status.HasCache && !status.IsExpired {
			hb.CachedPackages = status.PackageCount
		}
	}
	return hb
}

func (h *HeartbeatService) publish(ctx context.Context) {
	payload, err := json.Marshal(h.Build(ctx))
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
		return
	}

	token := h.MqttClient.Publish(h.Topic(), byte(h.QOS), false, payload)
	token.Wait()

	if err := token.Error(); err != nil {
		h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
	} else {
		h.Logger.Debug().Msg("Heartbeat published successfully")
	}
}
