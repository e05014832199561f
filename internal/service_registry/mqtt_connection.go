package service_registry

import (
	"errors"

	"github.com/benmeehan/debloat-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

// connector is the part of mqtt.MqttService the connection service drives.
type connector interface {
	Initialize(o mqtt.Options) error
	Disconnect(quiesce uint)
}

// mqttConnection brings the shared broker connection up and down with the
// other services.
type mqttConnection struct {
	client    connector
	opts      mqtt.Options
	logger    zerolog.Logger
	connected bool
}

func newMQTTConnection(client connector, opts mqtt.Options, logger zerolog.Logger) *mqttConnection {
	return &mqttConnection{client: client, opts: opts, logger: logger}
}

func (m *mqttConnection) Start() error {
	if m.connected {
		return errors.New("mqtt connection is already open")
	}
	if err := m.client.Initialize(m.opts); err != nil {
		return err
	}
	m.connected = true
	m.logger.Info().Str("broker", m.opts.Broker).Str("client_id", m.opts.ClientID).Msg("Connected to MQTT broker")
	return nil
}

func (m *mqttConnection) Stop() error {
	if !m.connected {
		return errors.New("mqtt connection is not open")
	}
	m.client.Disconnect(250)
	m.connected = false
	m.logger.Info().Msg("Disconnected from MQTT broker")
	return nil
}
