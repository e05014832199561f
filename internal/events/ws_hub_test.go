package events_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := events.NewHub(zerolog.Nop())
	require.NoError(t, hub.Start())
	defer hub.Stop()

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket())
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Emit("package_stream_progress", models.StreamProgress{Status: "Loading", PackagesLoaded: 30})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope struct {
		Event   string                 `json:"event"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "package_stream_progress", envelope.Event)
	assert.Equal(t, float64(30), envelope.Payload["packagesLoaded"])
}

func TestHub_UnregistersOnClose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := events.NewHub(zerolog.Nop())
	require.NoError(t, hub.Start())
	defer hub.Stop()

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket())
	server := httptest.NewServer(router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_StartStop(t *testing.T) {
	hub := events.NewHub(zerolog.Nop())
	assert.Error(t, hub.Stop())
	require.NoError(t, hub.Start())
	assert.Error(t, hub.Start())
	require.NoError(t, hub.Stop())

	// Emitting without a running loop never blocks.
	for i := 0; i < 300; i++ {
		hub.Emit("x", i)
	}
}
