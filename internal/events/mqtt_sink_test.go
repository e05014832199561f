package events_test

import (
	"encoding/json"
	"testing"

	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestMQTTSink_PublishesToAgentTopic(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	token := new(mocks.MockToken)
	token.On("WaitTimeout", mock.Anything).Return(true).Maybe()
	token.On("Error").Return(nil).Maybe()

	payload := map[string]int{"totalPackages": 42}
	expected, _ := json.Marshal(payload)
	client.On("Publish", "debloat/agent-1/package_stream_complete", byte(1), false, expected).Return(token)

	sink := events.NewMQTTSink(client, "debloat/", "agent-1", 1, zerolog.Nop())
	assert.Equal(t, "debloat/agent-1/x", sink.Topic("x"))

	sink.Emit("package_stream_complete", payload)
	client.AssertExpectations(t)
}

func TestMQTTSink_SkipsUnencodablePayload(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	sink := events.NewMQTTSink(client, "debloat", "agent-1", 0, zerolog.Nop())

	sink.Emit("bad", make(chan int))
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
