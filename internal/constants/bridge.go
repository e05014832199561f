package constants

import "time"

const (
	LocatorProbeTimeout     = 5  // seconds
	DefaultCommandTimeout   = 30 // seconds
	DefaultStreamTimeout    = 300
	MinimumBridgeVersion    = ">= 1.0.32"
	ServerRestartPause      = 500 * time.Millisecond
	DefaultTCPPort          = 5555
	DefaultDeviceCacheTTL   = 5 * time.Second
	DefaultPackageCacheTTL  = 300 * time.Second
	PackageChunkSize        = 30
	DefaultMonitorInterval  = 5 * time.Second
	MinimumMonitorInterval  = time.Second
	DefaultWorkerPoolSize   = 4
	UnknownDeviceName       = "Unknown Device"
	BackupFormatVersion     = "1.0"
	BackupFilenameLayout    = "2006-01-02_150405"
	BackupFilenamePrefix    = "backup_"
	BackupFilenameExtension = ".json"
)

// Health metric TTL defaults.
const (
	DefaultStorageTTL   = 3 * time.Second
	DefaultMemoryTTL    = 2 * time.Second
	DefaultCPUTTL       = 3 * time.Second
	DefaultThermalTTL   = 5 * time.Second
	DefaultServicesTTL  = 10 * time.Second
	DefaultAppCountsTTL = 60 * time.Second
	DefaultBatteryTTL   = 30 * time.Second
)

// Health metric names, in collection order.
const (
	MetricStorage   = "storage"
	MetricMemory    = "memory"
	MetricCPU       = "cpu"
	MetricServices  = "services"
	MetricAppCounts = "app_counts"
	MetricThermal   = "thermal"
	MetricBattery   = "battery"
)

// Event names delivered to sinks.
const (
	EventPackageChunk          = "package_chunk"
	EventPackageStreamProgress = "package_stream_progress"
	EventPackageStreamComplete = "package_stream_complete"
	EventSystemHealthUpdate    = "system_health_update"
)
