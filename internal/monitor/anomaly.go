package monitor

import "fmt"

// Kind names the condition an anomaly reports.
type Kind string

const (
	HighCPU              Kind = "high_cpu"
	HighMemory           Kind = "high_memory"
	HighLoad             Kind = "high_load"
	HighTemperature      Kind = "high_temperature"
	HighDiskRead         Kind = "high_disk_read"
	HighDiskWrite        Kind = "high_disk_write"
	HighNetworkErrorsIn  Kind = "high_network_errors_in"
	HighNetworkErrorsOut Kind = "high_network_errors_out"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

type Anomaly struct {
	Kind     Kind
	Detail   string
	Severity Severity
	// Sensor is set for HighTemperature only.
	Sensor string
}

func (a Anomaly) String() string {
	return a.Detail
}

func newAnomaly(kind Kind, format string, args ...any) Anomaly {
	return Anomaly{
		Kind:     kind,
		Detail:   fmt.Sprintf(format, args...),
		Severity: SeverityWarning,
	}
}
