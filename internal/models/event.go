package models

// Event is the envelope written to WebSocket and MQTT subscribers.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
}
