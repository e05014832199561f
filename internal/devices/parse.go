package devices

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/benmeehan/debloat-agent/internal/models"
)

// ParseDevices parses the output of "devices -l". Every well-formed line is
// returned, whatever its state.
func ParseDevices(output string) []models.Device {
	var devices []models.Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := models.Device{Serial: fields[0], State: fields[1]}
		for _, field := range fields[2:] {
			key, value, ok := strings.Cut(field, ":")
			if !ok {
				continue
			}
			switch key {
			case "model":
				d.Model = value
			case "product":
				d.Product = value
			case "device":
				d.Device = value
			case "transport_id":
				d.TransportID = value
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// parseBatteryLevel reads the "level:" line of dumpsys battery.
func parseBatteryLevel(output string) (int, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "level:") {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "level:")))
		if err == nil {
			return level, true
		}
	}
	return 0, false
}

// parseAvailableStorage formats the available column of df /data. Numeric
// values are 1K blocks.
func parseAvailableStorage(output string) (string, bool) {
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return "", false
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		available := fields[3]
		if kb, err := strconv.ParseFloat(available, 64); err == nil {
			return fmt.Sprintf("%.1f GB", kb/1024/1024), true
		}
		if strings.HasSuffix(available, "G") || strings.HasSuffix(available, "M") {
			return available, true
		}
	}
	return "", false
}
