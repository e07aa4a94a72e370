package collector

import (
	"context"
	"fmt"
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"codeberg.org/mutker/sysmonitor/internal/monitor"
)

func TestSumDisksSkipsPartitionsAndVirtualDevices(t *testing.T) {
	counters := map[string]disk.IOCountersStat{
		"sda":       {Name: "sda", ReadBytes: 100, WriteBytes: 10},
		"sda1":      {Name: "sda1", ReadBytes: 60, WriteBytes: 6},
		"sda2":      {Name: "sda2", ReadBytes: 40, WriteBytes: 4},
		"nvme0n1":   {Name: "nvme0n1", ReadBytes: 1000, WriteBytes: 100},
		"nvme0n1p1": {Name: "nvme0n1p1", ReadBytes: 1000, WriteBytes: 100},
		"dm-0":      {Name: "dm-0", ReadBytes: 7, WriteBytes: 7},
		"loop0":     {Name: "loop0", ReadBytes: 5000, WriteBytes: 0},
		"ram1":      {Name: "ram1", ReadBytes: 5000, WriteBytes: 0},
	}

	assert.Equal(t, monitor.DiskCounters{ReadBytes: 1107, WriteBytes: 117}, sumDisks(counters))
}

func TestIsPartition(t *testing.T) {
	counters := map[string]disk.IOCountersStat{
		"sda": {}, "sdaa": {}, "sda1": {}, "nvme0n1": {}, "nvme0n10": {}, "nvme0n1p2": {}, "mmcblk0": {}, "mmcblk0p1": {},
	}

	assert.False(t, isPartition("sda", counters))
	assert.False(t, isPartition("sdaa", counters))
	assert.True(t, isPartition("sda1", counters))
	assert.False(t, isPartition("nvme0n1", counters))
	assert.False(t, isPartition("nvme0n10", counters))
	assert.True(t, isPartition("nvme0n1p2", counters))
	assert.True(t, isPartition("mmcblk0p1", counters))
}

func TestSumDisksWithoutParents(t *testing.T) {
	// a partition whose parent is not listed is counted
	counters := map[string]disk.IOCountersStat{
		"vda1": {ReadBytes: 3, WriteBytes: 4},
	}

	assert.Equal(t, monitor.DiskCounters{ReadBytes: 3, WriteBytes: 4}, sumDisks(counters))
}

func TestMaxPerChip(t *testing.T) {
	stats := []sensors.TemperatureStat{
		{SensorKey: "coretemp_package_id_0", Temperature: 92},
		{SensorKey: "coretemp_core_0", Temperature: 91},
		{SensorKey: "coretemp_core_1", Temperature: 90},
		{SensorKey: "coretemp_core_2", Temperature: 89},
		{SensorKey: "coretemp_core_3", Temperature: 88},
		{SensorKey: "pch_cannonlake", Temperature: 50},
		{SensorKey: "nvme_composite", Temperature: 40},
		{SensorKey: "nvme_sensor_1", Temperature: 44},
		{SensorKey: "acpitz", Temperature: 30},
		{SensorKey: "", Temperature: 99},
	}
	chips := []string{"acpitz", "coretemp", "nvme", "pch_cannonlake"}

	assert.Equal(t, map[string]float64{
		"coretemp":       92,
		"pch_cannonlake": 50,
		"nvme":           44,
		"acpitz":         30,
	}, maxPerChip(stats, chips))
}

func TestMaxPerChipUnknownChipKeepsKey(t *testing.T) {
	stats := []sensors.TemperatureStat{
		{SensorKey: "k10temp_tctl", Temperature: 70},
		{SensorKey: "k10temp_tdie", Temperature: 65},
	}

	assert.Equal(t, map[string]float64{
		"k10temp_tctl": 70,
		"k10temp_tdie": 65,
	}, maxPerChip(stats, nil))
}

func TestChipOfPrefersLongestChip(t *testing.T) {
	temps := maxPerChip([]sensors.TemperatureStat{{SensorKey: "pch_cannonlake_temp1", Temperature: 1}},
		[]string{"pch", "pch_cannonlake"})

	assert.Equal(t, map[string]float64{"pch_cannonlake": 1}, temps)
	assert.Equal(t, "pch", chipOf("pch_temp1", []string{"pch"}))
}

func TestTemperaturesOneAnomalyPerHotChip(t *testing.T) {
	h := New(WithLogger(logger.Nop()))
	h.chipNames = func() []string { return []string{"coretemp"} }
	h.readSensors = func(context.Context) ([]sensors.TemperatureStat, error) {
		return []sensors.TemperatureStat{
			{SensorKey: "coretemp_package_id_0", Temperature: 92},
			{SensorKey: "coretemp_core_0", Temperature: 91},
			{SensorKey: "coretemp_core_1", Temperature: 90},
			{SensorKey: "coretemp_core_2", Temperature: 89},
			{SensorKey: "coretemp_core_3", Temperature: 88},
		}, nil
	}

	temps, err := h.Temperatures(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"coretemp": 92}, temps)

	res, _ := monitor.Evaluate(monitor.Snapshot{Temperatures: temps}, monitor.Baseline{},
		monitor.Thresholds{CPUPercent: 90, MemoryPercent: 90, LoadMultiplier: 1.5, TempCelsius: 80})
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, monitor.HighTemperature, res.Anomalies[0].Kind)
	assert.Equal(t, "coretemp", res.Anomalies[0].Sensor)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, errors.ErrUnavailable, classify(fmt.Errorf("not implemented yet"), ErrLoadReadFailed))
	assert.Equal(t, ErrLoadReadFailed, classify(fmt.Errorf("permission denied"), ErrLoadReadFailed))
}

type staticTemps struct {
	readings map[string]float64
	err      error
}

func (s staticTemps) Temperatures(context.Context) (map[string]float64, error) {
	return s.readings, s.err
}

func TestTemperaturesMergesExtraSources(t *testing.T) {
	h := New(
		WithLogger(logger.Nop()),
		WithTemperatureSource(staticTemps{readings: map[string]float64{"nvidia_gpu0": 71}}),
	)
	h.readSensors = func(context.Context) ([]sensors.TemperatureStat, error) {
		return []sensors.TemperatureStat{{SensorKey: "acpitz", Temperature: 30}}, nil
	}

	temps, err := h.Temperatures(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"acpitz": 30, "nvidia_gpu0": 71}, temps)
}

func TestTemperaturesPartialFailure(t *testing.T) {
	h := New(
		WithLogger(logger.Nop()),
		WithTemperatureSource(staticTemps{err: fmt.Errorf("nvml gone")}),
	)
	h.readSensors = func(context.Context) ([]sensors.TemperatureStat, error) {
		return []sensors.TemperatureStat{{SensorKey: "acpitz", Temperature: 30}}, fmt.Errorf("hwmon3 unreadable")
	}

	temps, err := h.Temperatures(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvml gone")
	assert.Equal(t, map[string]float64{"acpitz": 30}, temps)
}

func TestTemperaturesNotImplemented(t *testing.T) {
	h := New(WithLogger(logger.Nop()))
	h.readSensors = func(context.Context) ([]sensors.TemperatureStat, error) {
		return nil, fmt.Errorf("not implemented yet")
	}

	temps, err := h.Temperatures(context.Background())
	assert.Empty(t, temps)
	assert.True(t, errors.HasCode(err, errors.ErrUnavailable))
}

func TestCodesHaveMessages(t *testing.T) {
	err := errors.New().Wrap(ErrCPUReadFailed, fmt.Errorf("context canceled"))
	assert.Equal(t, "Failed to read CPU usage (collector_cpu_read_failed): context canceled", err.Error())
}
