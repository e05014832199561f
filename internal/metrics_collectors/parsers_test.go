package metrics_collectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStorageKB(t *testing.T) {
	out := "Filesystem     1K-blocks   Used Available Use% Mounted on\n/dev/block/dm-5 1048576 524288 524288 50% /data\n"
	info, ok := ParseStorageKB(out)
	require.True(t, ok)
	assert.Equal(t, uint64(1024), info.TotalMB)
	assert.Equal(t, uint64(512), info.UsedMB)
	assert.Equal(t, uint64(512), info.FreeMB)
	assert.InDelta(t, 50.0, info.UsagePercent, 0.001)
}

func TestParseStorage_ZeroTotalIsZeroPercent(t *testing.T) {
	info, ok := ParseStorageKB("Filesystem 1K-blocks Used Available\n/dev/x 0 0 0 0% /data\n")
	require.True(t, ok)
	assert.Zero(t, info.UsagePercent)
}

func TestParseStorageHuman(t *testing.T) {
	_, ok := ParseStorageKB("Filesystem Size Used Avail Use% Mounted on\n/dev/x 110G 55G 55G 50% /data\n")
	require.False(t, ok)

	info, ok := ParseStorageHuman("Filesystem Size Used Avail Use% Mounted on\n/dev/x 110G 55G 55G 50% /data\n")
	require.True(t, ok)
	assert.Equal(t, uint64(112640), info.TotalMB)
	assert.Equal(t, uint64(56320), info.UsedMB)
	assert.InDelta(t, 50.0, info.UsagePercent, 0.001)
}

func TestParseSizeToMB(t *testing.T) {
	assert.Equal(t, uint64(1), ParseSizeToMB("1024K"))
	assert.Equal(t, uint64(512), ParseSizeToMB("512M"))
	assert.Equal(t, uint64(1536), ParseSizeToMB("1.5G"))
	assert.Equal(t, uint64(1048576), ParseSizeToMB("1T"))
	assert.Equal(t, uint64(7), ParseSizeToMB("7"))
	assert.Equal(t, uint64(0), ParseSizeToMB("junk"))
}

func TestParseMeminfo(t *testing.T) {
	out := "MemTotal:        8000000 kB\nMemFree:          100000 kB\nMemAvailable:    2048000 kB\nBuffers:           10240 kB\nCached:          1024000 kB\n"
	info, ok := ParseMeminfo(out)
	require.True(t, ok)
	assert.Equal(t, uint64(7812), info.TotalMB)
	assert.Equal(t, uint64(2000), info.AvailableMB)
	assert.Equal(t, uint64(5812), info.UsedMB)
	assert.Equal(t, uint64(10), info.BuffersMB)
	assert.Equal(t, uint64(1000), info.CachedMB)
	assert.InDelta(t, 74.4, info.UsagePercent, 0.1)

	_, ok = ParseMeminfo("garbage")
	assert.False(t, ok)
}

func TestParseMeminfo_AvailableAboveTotalSaturates(t *testing.T) {
	info, ok := ParseMeminfo("MemTotal: 1024 kB\nMemAvailable: 4096 kB\n")
	require.True(t, ok)
	assert.Zero(t, info.UsedMB)
	assert.Zero(t, info.UsagePercent)
}

func TestParseTopCPU(t *testing.T) {
	tests := []struct {
		name  string
		out   string
		usage float64
		user  float64
		sys   float64
		idle  float64
	}{
		{
			name:  "toybox capacity scaled",
			out:   "Tasks: 500 total\nMem: 1 total\nSwap: 1 total\n800%cpu  16%user   0%nice  24%sys 760%idle   0%iow\n",
			usage: 5, user: 2, sys: 3, idle: 95,
		},
		{
			name:  "separated",
			out:   "CPU: 10% user 5% sys 85% idle\n",
			usage: 15, user: 10, sys: 5, idle: 85,
		},
		{
			name:  "label first without idle",
			out:   "\nUser 7%, System 3%, IOW 0%, IRQ 0%\n",
			usage: 10, user: 7, sys: 3, idle: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := ParseTopCPU(tt.out)
			require.True(t, ok)
			assert.InDelta(t, tt.usage, info.UsagePercent, 0.001)
			assert.InDelta(t, tt.user, info.UserPercent, 0.001)
			assert.InDelta(t, tt.sys, info.SystemPercent, 0.001)
			assert.InDelta(t, tt.idle, info.IdlePercent, 0.001)
		})
	}

	_, ok := ParseTopCPU("PID USER PR NI VIRT RES SHR S[%CPU] %MEM TIME+ ARGS\n")
	assert.False(t, ok)
}

func TestParseProcStat(t *testing.T) {
	info, ok := ParseProcStat("cpu  100 0 100 800 0 0 0\n")
	require.True(t, ok)
	assert.InDelta(t, 20.0, info.UsagePercent, 0.001)
	assert.InDelta(t, 10.0, info.UserPercent, 0.001)
	assert.InDelta(t, 80.0, info.IdlePercent, 0.001)

	_, ok = ParseProcStat("intr 1 2 3 4 5")
	assert.False(t, ok)
}

func TestCounts(t *testing.T) {
	assert.Equal(t, 2, CountServices("Found 2 services:\n0 a: [x]\n1 b: [y]\n"))
	assert.Equal(t, 0, CountServices(""))
	assert.Equal(t, 3, CountPackages("package:a\npackage:b\n\npackage:c\nnoise\n"))
}

func TestParseThermal(t *testing.T) {
	tests := []struct {
		out        string
		status     string
		throttling bool
	}{
		{"Thermal Status: 0 (NONE)", "normal", false},
		{"status LIGHT", "normal", false},
		{"Thermal Status: MODERATE", "moderate", true},
		{"status severe", "severe", true},
		{"moderate then Critical", "critical", true},
		{"EMERGENCY", "critical", true},
		{"nothing useful", "unknown", false},
	}
	for _, tt := range tests {
		info := ParseThermal(tt.out)
		assert.Equal(t, tt.status, info.Status, tt.out)
		assert.Equal(t, tt.throttling, info.Throttling, tt.out)
	}
}

func TestParseThermal_Temperature(t *testing.T) {
	out := "IsStatusOverride: false\nThermal Status: 0\nCached temperatures:\n\tTemperature{mValue=36.5, mType=2, mName=battery, mStatus=0}\n"
	info := ParseThermal(out)
	require.NotNil(t, info.TemperatureC)
	assert.InDelta(t, 36.5, *info.TemperatureC, 0.001)

	info = ParseThermal("temperature 400C\n")
	assert.Nil(t, info.TemperatureC, "implausible readings are ignored")

	info = ParseThermal("skin temperature: 41.2°C\n")
	require.NotNil(t, info.TemperatureC)
	assert.InDelta(t, 41.2, *info.TemperatureC, 0.001)
}

func TestBatterySection(t *testing.T) {
	var s BatterySection
	s.Add("noise")
	s.Add("Estimated power use (mAh):")
	for i := 0; i < 60; i++ {
		s.Add("line")
	}
	assert.Len(t, s.Lines(), 51)
	assert.Equal(t, "Estimated power use (mAh):", s.Lines()[0])
}

func TestParseBatteryDrainers(t *testing.T) {
	lines := []string{
		"Estimated power use (mAh):",
		"  Capacity: 4000, Computed drain: 500",
		"  Uid 10123 (com.example.maps): 40.0 mAh ( cpu=10 )",
		"  Uid 10124 (com.example.video): 30.0 mAh",
		"  Uid u0a55: 10.0 mAh",
		"  Uid 1000: 10.0 mAh",
		"  Uid 10130 (com.example.chat): 5.0 mAh",
		"  Uid 10131 (com.example.tiny): 0.05 mAh",
		"  Uid 10132 (com.example.sixth): 1.0 mAh",
		"  Screen: 100 mAh",
	}
	drainers := ParseBatteryDrainers(lines)
	require.Len(t, drainers, 5)

	assert.Equal(t, "com.example.maps", drainers[0].PackageName)
	assert.Equal(t, "maps", drainers[0].AppName)
	assert.InDelta(t, 40.0/95.0*100, drainers[0].UsagePercent, 0.001)
	assert.Equal(t, "u0a55", drainers[2].PackageName)
	assert.Equal(t, "com.example.chat", drainers[4].PackageName)

	var sum float64
	for i, d := range drainers {
		sum += d.UsagePercent
		if i > 0 {
			assert.GreaterOrEqual(t, drainers[i-1].UsagePercent, d.UsagePercent)
		}
	}
	assert.InDelta(t, 100.0, sum, 0.001)
}

func TestParseBatteryDrainers_Empty(t *testing.T) {
	drainers := ParseBatteryDrainers(nil)
	assert.NotNil(t, drainers)
	assert.Empty(t, drainers)
}
