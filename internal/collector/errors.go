package collector

import "codeberg.org/mutker/sysmonitor/internal/errors"

const (
	ErrCPUReadFailed         = errors.ErrorCode("collector_cpu_read_failed")
	ErrMemoryReadFailed      = errors.ErrorCode("collector_memory_read_failed")
	ErrDiskReadFailed        = errors.ErrorCode("collector_disk_read_failed")
	ErrNetReadFailed         = errors.ErrorCode("collector_net_read_failed")
	ErrLoadReadFailed        = errors.ErrorCode("collector_load_read_failed")
	ErrTemperatureReadFailed = errors.ErrorCode("collector_temperature_read_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrCPUReadFailed:         "Failed to read CPU usage",
		ErrMemoryReadFailed:      "Failed to read memory usage",
		ErrDiskReadFailed:        "Failed to read disk counters",
		ErrNetReadFailed:         "Failed to read network counters",
		ErrLoadReadFailed:        "Failed to read load average",
		ErrTemperatureReadFailed: "Failed to read temperature sensors",
	})
}
