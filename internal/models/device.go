package models

// Device is one entry of the bridge's device listing.
type Device struct {
	Serial      string `json:"serial"`
	State       string `json:"state"`
	Model       string `json:"model,omitempty"`
	Product     string `json:"product,omitempty"`
	Device      string `json:"device,omitempty"`
	TransportID string `json:"transportId,omitempty"`
}

// DeviceStateReady is the state reported for an authorized, online device.
const DeviceStateReady = "device"

// IsReady reports whether the device accepts commands.
func (d Device) IsReady() bool {
	return d.State == DeviceStateReady
}

// DeviceInfo summarizes the default device for display.
type DeviceInfo struct {
	Name             string `json:"name"`
	Model            string `json:"model,omitempty"`
	AndroidVersion   string `json:"androidVersion"`
	BatteryPercent   *int   `json:"batteryPercentage,omitempty"`
	StorageAvailable string `json:"storageAvailable,omitempty"`
}
