package models

// BackupData is the on-disk backup file.
type BackupData struct {
	Version    string   `json:"version"`
	Timestamp  string   `json:"timestamp"`
	DeviceName string   `json:"deviceName"`
	Packages   []string `json:"packages"`
}

// BackupInfo lists a backup file without its package list.
type BackupInfo struct {
	Filename   string `json:"filename"`
	Date       string `json:"date"`
	Count      int    `json:"count"`
	DeviceName string `json:"deviceName"`
}

// BackupResult is returned after writing a backup.
type BackupResult struct {
	Success   bool   `json:"success"`
	Filename  string `json:"filename,omitempty"`
	Path      string `json:"path,omitempty"`
	ObjectURL string `json:"objectUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RestoreResult summarizes a restore run.
type RestoreResult struct {
	Success  bool     `json:"success"`
	Restored int      `json:"restored"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}
