package history

import (
	"context"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/monitor"
)

// Recorder stores tick results. It satisfies monitor.Recorder.
type Recorder interface {
	Record(ctx context.Context, res monitor.Result) error
	Close() error
}

// Repository defines the interface for sample storage
type Repository interface {
	Record(sample *Sample) error
	Flush() error
	Prune(before time.Time) (int64, error)
	Recent(limit int, anomalousOnly bool) ([]Sample, error)
	Close() error
}

// Sample is one stored tick. Nil fields were not available that tick.
type Sample struct {
	ID            int64
	Timestamp     time.Time
	CPUPercent    *float64
	MemoryPercent *float64
	MemoryTotal   *uint64
	DiskRead      *uint64
	DiskWrite     *uint64
	NetSent       *uint64
	NetRecv       *uint64
	NetErrIn      *uint64
	NetErrOut     *uint64
	Load1         *float64
	MaxTemp       *float64
	Anomalies     []Anomaly
}

type Anomaly struct {
	Kind   monitor.Kind
	Detail string
}

// SampleFromResult flattens a tick result for storage.
func SampleFromResult(res monitor.Result) *Sample {
	s := res.Snapshot
	sample := &Sample{Timestamp: s.Timestamp, Load1: s.Load1}

	if s.CPU != nil {
		sample.CPUPercent = &s.CPU.Percent
	}
	if s.Memory != nil {
		sample.MemoryPercent = &s.Memory.Percent
		sample.MemoryTotal = &s.Memory.Total
	}
	if s.Disk != nil {
		sample.DiskRead = &s.Disk.ReadBytes
		sample.DiskWrite = &s.Disk.WriteBytes
	}
	if s.Net != nil {
		sample.NetSent = &s.Net.BytesSent
		sample.NetRecv = &s.Net.BytesRecv
		sample.NetErrIn = &s.Net.ErrIn
		sample.NetErrOut = &s.Net.ErrOut
	}
	for _, t := range s.Temperatures {
		if sample.MaxTemp == nil || t > *sample.MaxTemp {
			t := t
			sample.MaxTemp = &t
		}
	}
	for _, a := range res.Anomalies {
		sample.Anomalies = append(sample.Anomalies, Anomaly{Kind: a.Kind, Detail: a.Detail})
	}

	return sample
}
