package models

import "time"

type StorageInfo struct {
	TotalMB      uint64  `json:"total_mb"`
	UsedMB       uint64  `json:"used_mb"`
	FreeMB       uint64  `json:"free_mb"`
	UsagePercent float64 `json:"usage_percent"`
}

type MemoryInfo struct {
	TotalMB      uint64  `json:"total_mb"`
	AvailableMB  uint64  `json:"available_mb"`
	UsedMB       uint64  `json:"used_mb"`
	UsagePercent float64 `json:"usage_percent"`
	BuffersMB    uint64  `json:"buffers_mb"`
	CachedMB     uint64  `json:"cached_mb"`
}

type CPUInfo struct {
	UsagePercent  float64 `json:"usage_percent"`
	UserPercent   float64 `json:"user_percent"`
	SystemPercent float64 `json:"system_percent"`
	IdlePercent   float64 `json:"idle_percent"`
}

// BatteryDrainer is one of the top battery consumers. UsagePercent is the
// share of the combined drain of the reported apps.
type BatteryDrainer struct {
	AppName          string  `json:"app_name"`
	PackageName      string  `json:"package_name"`
	UsagePercent     float64 `json:"usage_percent"`
	ForegroundTimeMs uint64  `json:"foreground_time_ms"`
}

// ThermalInfo status is one of normal, moderate, severe, critical or unknown.
type ThermalInfo struct {
	Status       string   `json:"status"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	Throttling   bool     `json:"throttling"`
}

type AppCounts struct {
	SystemApps int `json:"system_apps"`
	UserApps   int `json:"user_apps"`
	TotalApps  int `json:"total_apps"`
}

// HealthSnapshot merges independently cached metrics. UpdatedAt records the
// capture time of each metric that has a value.
type HealthSnapshot struct {
	Storage         StorageInfo          `json:"storage"`
	Memory          MemoryInfo           `json:"memory"`
	CPU             CPUInfo              `json:"cpu"`
	ServicesCount   int                  `json:"services_count"`
	BatteryDrainers []BatteryDrainer     `json:"battery_drainers"`
	Thermal         ThermalInfo          `json:"thermal"`
	AppCounts       AppCounts            `json:"app_counts"`
	Timestamp       int64                `json:"timestamp"`
	DeviceID        string               `json:"device_id"`
	UpdatedAt       map[string]time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (h HealthSnapshot) Clone() HealthSnapshot {
	out := h
	out.BatteryDrainers = append([]BatteryDrainer(nil), h.BatteryDrainers...)
	if h.Thermal.TemperatureC != nil {
		t := *h.Thermal.TemperatureC
		out.Thermal.TemperatureC = &t
	}
	out.UpdatedAt = make(map[string]time.Time, len(h.UpdatedAt))
	for k, v := range h.UpdatedAt {
		out.UpdatedAt[k] = v
	}
	return out
}

// HealthUpdate is the payload of the system_health_update event.
type HealthUpdate struct {
	Health         HealthSnapshot `json:"health"`
	MetricsUpdated []string       `json:"metrics_updated"`
	IsComplete     bool           `json:"is_complete"`
}
