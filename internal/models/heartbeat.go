package models

import "time"

// Heartbeat is the periodic presence message the agent publishes.
type Heartbeat struct {
	AgentID         string    `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	DeviceSerial    string    `json:"device_serial,omitempty"`
	DeviceConnected bool      `json:"device_connected"`
	CachedPackages  int       `json:"cached_packages"`
}
