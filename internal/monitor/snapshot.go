package monitor

import "time"

// Snapshot is one tick's raw reading of the host. A nil family could not
// be read this tick.
type Snapshot struct {
	Timestamp time.Time

	CPU    *CPUStat
	Memory *MemoryStat
	Disk   *DiskCounters
	Net    *NetCounters
	Load1  *float64

	// CPUCount is the logical core count, 0 when unknown.
	CPUCount int

	// Temperatures maps sensor name to its current maximum in Celsius.
	Temperatures map[string]float64
}

type CPUStat struct {
	Percent float64
}

type MemoryStat struct {
	Percent float64
	Total   uint64
}

// DiskCounters are cumulative since boot.
type DiskCounters struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// NetCounters are cumulative since boot.
type NetCounters struct {
	BytesSent uint64
	BytesRecv uint64
	ErrIn     uint64
	ErrOut    uint64
}

// Thresholds are the limits a tick is evaluated against.
type Thresholds struct {
	CPUPercent     float64
	MemoryPercent  float64
	LoadMultiplier float64
	DiskIOBytes    uint64
	NetErrors      uint64
	TempCelsius    float64
}
