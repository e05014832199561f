package models

// SafetyLevel grades how risky it is to remove a package.
type SafetyLevel string

const (
	SafetySafe      SafetyLevel = "Safe"      // third-party apps, bloatware
	SafetyCaution   SafetyLevel = "Caution"   // OEM apps, may affect some features
	SafetyExpert    SafetyLevel = "Expert"    // may break functionality
	SafetyDangerous SafetyLevel = "Dangerous" // critical system component
)

// Valid reports whether l is one of the four known levels.
func (l SafetyLevel) Valid() bool {
	switch l {
	case SafetySafe, SafetyCaution, SafetyExpert, SafetyDangerous:
		return true
	}
	return false
}

// PackageRecord is one classified package.
type PackageRecord struct {
	PackageName string      `json:"packageName"`
	AppName     string      `json:"appName"`
	SafetyLevel SafetyLevel `json:"safetyLevel"`
}

// CatalogEntry is a known package in the static knowledge base.
type CatalogEntry struct {
	Name         string      `json:"name" yaml:"name"`
	DisplayName  string      `json:"displayName" yaml:"display_name"`
	SafetyLevel  SafetyLevel `json:"safetyLevel" yaml:"safety_level"`
	Reason       string      `json:"reason" yaml:"reason"`
	CanReinstall bool        `json:"canReinstall" yaml:"can_reinstall"`
}

// PackageChunk is the payload of the package_chunk event.
type PackageChunk struct {
	Packages   []PackageRecord `json:"packages"`
	ChunkIndex int             `json:"chunkIndex"`
	TotalSoFar int             `json:"totalSoFar"`
	IsFinal    bool            `json:"isFinal"`
	FromCache  bool            `json:"fromCache"`
}

// StreamProgress is the payload of the package_stream_progress event.
type StreamProgress struct {
	Status         string `json:"status"`
	PackagesLoaded int    `json:"packagesLoaded"`
	IsComplete     bool   `json:"isComplete"`
	Error          string `json:"error,omitempty"`
}

// StreamComplete is the payload of the package_stream_complete event.
type StreamComplete struct {
	TotalPackages int   `json:"totalPackages"`
	DurationMs    int64 `json:"durationMs"`
	FromCache     bool  `json:"fromCache"`
}

// CacheStatus describes the package cache.
type CacheStatus struct {
	HasCache     bool   `json:"hasCache"`
	PackageCount int    `json:"packageCount,omitempty"`
	DeviceSerial string `json:"deviceSerial,omitempty"`
	AgeSeconds   int64  `json:"ageSeconds,omitempty"`
	IsExpired    bool   `json:"isExpired,omitempty"`
}

// UninstallResult is the outcome of an uninstall or reinstall.
type UninstallResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
