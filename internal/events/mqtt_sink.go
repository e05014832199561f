package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/benmeehan/debloat-agent/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const publishWait = 5 * time.Second

// MQTTSink publishes every event to <prefix>/<agentID>/<event>.
type MQTTSink struct {
	client  mqtt.MQTTClient
	prefix  string
	agentID string
	qos     byte
	logger  zerolog.Logger
}

// NewMQTTSink creates a sink on an already connected client.
func NewMQTTSink(client mqtt.MQTTClient, prefix, agentID string, qos int, logger zerolog.Logger) *MQTTSink {
	return &MQTTSink{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		agentID: agentID,
		qos:     byte(qos),
		logger:  logger,
	}
}

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(name string) string {
	return s.prefix + "/" + s.agentID + "/" + name
}

// Emit publishes the JSON payload. Delivery is confirmed in the background.
func (s *MQTTSink) Emit(name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", name).Msg("Failed to encode event")
		return
	}
	topic := s.Topic(name)
	token := s.client.Publish(topic, s.qos, false, data)
	go s.await(topic, token)
}

func (s *MQTTSink) await(topic string, token MQTT.Token) {
	if !token.WaitTimeout(publishWait) {
		s.logger.Warn().Str("topic", topic).Msg("Timed out publishing event")
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to publish event")
	}
}
