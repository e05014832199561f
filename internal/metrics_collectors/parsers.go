package metrics_collectors

import (
	"sort"
	"strconv"
	"strings"

	"github.com/benmeehan/debloat-agent/internal/models"
)

// percentOf returns part/total*100, or 0 when total is 0.
func percentOf(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func lastNonEmptyLine(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\r\n \t"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// ParseStorageKB parses the last line of "df /data", whose size columns are
// 1K blocks.
func ParseStorageKB(output string) (models.StorageInfo, bool) {
	fields := strings.Fields(lastNonEmptyLine(output))
	if len(fields) < 4 {
		return models.StorageInfo{}, false
	}
	total, err1 := strconv.ParseUint(fields[1], 10, 64)
	used, err2 := strconv.ParseUint(fields[2], 10, 64)
	free, err3 := strconv.ParseUint(fields[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return models.StorageInfo{}, false
	}
	return storageInfo(total/1024, used/1024, free/1024), true
}

// ParseStorageHuman parses the last line of "df -h /data".
func ParseStorageHuman(output string) (models.StorageInfo, bool) {
	fields := strings.Fields(lastNonEmptyLine(output))
	if len(fields) < 4 {
		return models.StorageInfo{}, false
	}
	return storageInfo(ParseSizeToMB(fields[1]), ParseSizeToMB(fields[2]), ParseSizeToMB(fields[3])), true
}

func storageInfo(totalMB, usedMB, freeMB uint64) models.StorageInfo {
	return models.StorageInfo{
		TotalMB:      totalMB,
		UsedMB:       usedMB,
		FreeMB:       freeMB,
		UsagePercent: percentOf(usedMB, totalMB),
	}
}

// ParseSizeToMB converts a human readable size such as 1.5G into megabytes.
// A bare number is taken as megabytes.
func ParseSizeToMB(size string) uint64 {
	size = strings.ToUpper(strings.TrimSpace(size))
	if len(size) < 2 {
		n, _ := strconv.ParseUint(size, 10, 64)
		return n
	}

	num, unit := size[:len(size)-1], size[len(size)-1:]
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		n, _ := strconv.ParseUint(size, 10, 64)
		return n
	}
	switch unit {
	case "K":
		return uint64(value / 1024)
	case "M":
		return uint64(value)
	case "G":
		return uint64(value * 1024)
	case "T":
		return uint64(value * 1024 * 1024)
	}
	n, _ := strconv.ParseUint(size, 10, 64)
	return n
}

// ParseMeminfo parses /proc/meminfo. Used memory is total minus available.
func ParseMeminfo(output string) (models.MemoryInfo, bool) {
	values := make(map[string]uint64)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "kB"))
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			values[strings.TrimSpace(key)] = n
		}
	}
	if _, ok := values["MemTotal"]; !ok {
		return models.MemoryInfo{}, false
	}

	totalMB := values["MemTotal"] / 1024
	availableMB := values["MemAvailable"] / 1024
	var usedMB uint64
	if totalMB > availableMB {
		usedMB = totalMB - availableMB
	}
	return models.MemoryInfo{
		TotalMB:      totalMB,
		AvailableMB:  availableMB,
		UsedMB:       usedMB,
		UsagePercent: percentOf(usedMB, totalMB),
		BuffersMB:    values["Buffers"] / 1024,
		CachedMB:     values["Cached"] / 1024,
	}, true
}

// ParseTopCPU reads the CPU summary line from the head of "top -n 1 -b".
// Toybox top prints "800%cpu 12%user 0%nice 10%sys 778%idle", which is
// scaled by the core capacity; older builds print "User 5%, System 3%" or
// "5% user 3% sys 90% idle".
func ParseTopCPU(output string) (models.CPUInfo, bool) {
	lines := strings.Split(output, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		isCPULine := strings.Contains(lower, "cpu") && (strings.Contains(lower, "user") || strings.Contains(lower, "usr"))
		if !isCPULine && !strings.HasPrefix(lower, "user") {
			continue
		}
		if info, ok := parseCPULine(lower); ok {
			return info, true
		}
	}
	return models.CPUInfo{}, false
}

func parseCPULine(line string) (models.CPUInfo, bool) {
	tokens := strings.Fields(strings.ReplaceAll(line, ",", " "))
	values := make(map[string]float64)
	capacity := 0.0

	set := func(label string, v float64) {
		switch {
		case strings.HasPrefix(label, "cpu"):
			capacity = v
		case strings.HasPrefix(label, "user"), strings.HasPrefix(label, "usr"):
			values["user"] = v
		case strings.HasPrefix(label, "sys"):
			values["sys"] = v
		case strings.HasPrefix(label, "idl"):
			values["idle"] = v
		}
	}

	for len(tokens) > 0 && strings.HasSuffix(tokens[0], ":") {
		tokens = tokens[1:]
	}
	labelFirst := len(tokens) > 0 && !numberish(tokens[0])

	for i, tok := range tokens {
		// glued: 12%user
		if num, label, ok := strings.Cut(tok, "%"); ok && label != "" {
			if v, err := strconv.ParseFloat(num, 64); err == nil {
				set(label, v)
				continue
			}
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "%"), 64)
		if err != nil {
			continue
		}
		switch {
		case labelFirst && i > 0:
			set(tokens[i-1], v)
		case !labelFirst && i+1 < len(tokens):
			set(tokens[i+1], v)
		}
	}

	user, hasUser := values["user"]
	sys := values["sys"]
	idle, hasIdle := values["idle"]
	if !hasUser && !hasIdle {
		return models.CPUInfo{}, false
	}
	if capacity > 0 {
		scale := capacity / 100
		user, sys, idle = user/scale, sys/scale, idle/scale
	}

	usage := user + sys
	if hasIdle {
		usage = 100 - idle
	}
	return models.CPUInfo{
		UsagePercent:  clampPercent(usage),
		UserPercent:   user,
		SystemPercent: sys,
		IdlePercent:   idle,
	}, true
}

// ParseProcStat derives CPU shares from the aggregate line of /proc/stat.
func ParseProcStat(output string) (models.CPUInfo, bool) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) < 5 || fields[0] != "cpu" {
		return models.CPUInfo{}, false
	}
	var v [4]float64
	for i := range v {
		n, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return models.CPUInfo{}, false
		}
		v[i] = n
	}
	user, nice, system, idle := v[0], v[1], v[2], v[3]
	total := user + nice + system + idle
	if total <= 0 {
		return models.CPUInfo{}, false
	}
	return models.CPUInfo{
		UsagePercent:  (total - idle) / total * 100,
		UserPercent:   (user + nice) / total * 100,
		SystemPercent: system / total * 100,
		IdlePercent:   idle / total * 100,
	}, true
}

func numberish(tok string) bool {
	num, _, _ := strings.Cut(tok, "%")
	_, err := strconv.ParseFloat(num, 64)
	return err == nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CountServices counts the entries of "service list", minus its header.
func CountServices(output string) int {
	n := len(nonEmptyLines(output))
	if n == 0 {
		return 0
	}
	return n - 1
}

// CountPackages counts "package:" lines.
func CountPackages(output string) int {
	n := 0
	for _, line := range nonEmptyLines(output) {
		if strings.HasPrefix(line, "package:") {
			n++
		}
	}
	return n
}

func nonEmptyLines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseThermal derives the throttling status by keyword priority and the
// first plausible temperature reading.
func ParseThermal(output string) models.ThermalInfo {
	lines := strings.Split(output, "\n")
	if len(lines) > 30 {
		lines = lines[:30]
	}
	lower := strings.ToLower(strings.Join(lines, "\n"))

	info := models.ThermalInfo{Status: "unknown"}
	switch {
	case strings.Contains(lower, "critical") || strings.Contains(lower, "emergency"):
		info.Status, info.Throttling = "critical", true
	case strings.Contains(lower, "severe") || strings.Contains(lower, "shutdown"):
		info.Status, info.Throttling = "severe", true
	case strings.Contains(lower, "moderate") || strings.Contains(lower, "throttling"):
		info.Status, info.Throttling = "moderate", true
	case strings.Contains(lower, "light") || strings.Contains(lower, "normal") || strings.Contains(lower, "none"):
		info.Status = "normal"
	}

	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), "temperature") {
			continue
		}
		if t, ok := findTemperature(line); ok {
			info.TemperatureC = &t
			break
		}
	}
	return info
}

func findTemperature(line string) (float64, bool) {
	for _, tok := range strings.Fields(line) {
		if _, after, ok := strings.Cut(tok, "="); ok {
			tok = after
		}
		tok = strings.TrimRight(tok, ",}°Cc")
		t, err := strconv.ParseFloat(tok, 64)
		if err == nil && t > 0 && t < 150 {
			return t, true
		}
	}
	return 0, false
}

const (
	batterySectionHeader = "Estimated power use"
	batterySectionLines  = 50
	batteryMinimumMAh    = 0.1
	batteryTopN          = 5
)

// BatterySection collects the "Estimated power use" header line and the 50
// lines after it from a streamed batterystats dump.
type BatterySection struct {
	lines     []string
	remaining int
	seen      bool
}

// Add feeds one line of the dump.
func (b *BatterySection) Add(line string) {
	if b.remaining > 0 {
		b.lines = append(b.lines, line)
		b.remaining--
		return
	}
	if !b.seen && strings.Contains(line, batterySectionHeader) {
		b.seen = true
		b.lines = append(b.lines, line)
		b.remaining = batterySectionLines
	}
}

// Lines returns the captured section.
func (b *BatterySection) Lines() []string {
	return b.lines
}

// ParseBatteryDrainers picks the top five "Uid ...: N mAh" consumers above
// 0.1 mAh and expresses each as a share of their combined drain.
func ParseBatteryDrainers(lines []string) []models.BatteryDrainer {
	drainers := make([]models.BatteryDrainer, 0)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Uid") {
			continue
		}
		idx := strings.Index(line, "mAh")
		if idx < 0 {
			continue
		}
		parts := strings.Split(strings.TrimSpace(line[:idx]), ":")
		if len(parts) < 2 {
			continue
		}
		uidPart := strings.TrimSpace(parts[0])
		mahFields := strings.Fields(parts[1])
		if len(mahFields) == 0 {
			continue
		}
		mah, err := strconv.ParseFloat(mahFields[0], 64)
		if err != nil || mah <= batteryMinimumMAh {
			continue
		}

		pkg := strings.TrimPrefix(uidPart, "Uid ")
		if open := strings.Index(uidPart, "("); open >= 0 {
			if end := strings.Index(uidPart[open+1:], ")"); end >= 0 {
				pkg = uidPart[open+1 : open+1+end]
			}
		}
		appName := pkg
		if dot := strings.LastIndex(pkg, "."); dot >= 0 {
			appName = pkg[dot+1:]
		}
		drainers = append(drainers, models.BatteryDrainer{
			AppName:      appName,
			PackageName:  pkg,
			UsagePercent: mah,
		})
	}

	sort.SliceStable(drainers, func(i, j int) bool {
		return drainers[i].UsagePercent > drainers[j].UsagePercent
	})
	if len(drainers) > batteryTopN {
		drainers = drainers[:batteryTopN]
	}

	var total float64
	for _, d := range drainers {
		total += d.UsagePercent
	}
	if total > 0 {
		for i := range drainers {
			drainers[i].UsagePercent = drainers[i].UsagePercent / total * 100
		}
	}
	return drainers
}
