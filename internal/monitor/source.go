package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
)

// Source reads the host, one method per metric family. A family that does
// not exist on the platform returns an errors.ErrUnavailable error.
type Source interface {
	// CPUPercent blocks for its observation window.
	CPUPercent(ctx context.Context) (float64, error)
	CPUCount(ctx context.Context) (int, error)
	Memory(ctx context.Context) (MemoryStat, error)
	DiskCounters(ctx context.Context) (DiskCounters, error)
	NetCounters(ctx context.Context) (NetCounters, error)
	LoadAverage(ctx context.Context) (float64, error)
	Temperatures(ctx context.Context) (map[string]float64, error)
}

// Acquire reads every family from src. A failing family is left absent in
// the snapshot and never aborts the others.
func Acquire(ctx context.Context, src Source, log logger.Logger, now time.Time) Snapshot {
	s := Snapshot{Timestamp: now}

	if pct, err := src.CPUPercent(ctx); err == nil {
		s.CPU = &CPUStat{Percent: pct}
	} else {
		logAcquireError(log, "cpu", err)
	}

	if n, err := src.CPUCount(ctx); err == nil {
		s.CPUCount = n
	} else {
		logAcquireError(log, "cpu_count", err)
	}

	if m, err := src.Memory(ctx); err == nil {
		s.Memory = &m
	} else {
		logAcquireError(log, "memory", err)
	}

	if d, err := src.DiskCounters(ctx); err == nil {
		s.Disk = &d
	} else {
		logAcquireError(log, "disk", err)
	}

	if n, err := src.NetCounters(ctx); err == nil {
		s.Net = &n
	} else {
		logAcquireError(log, "net", err)
	}

	if l, err := src.LoadAverage(ctx); err == nil {
		s.Load1 = &l
	} else {
		logAcquireError(log, "load", err)
	}

	temps, err := src.Temperatures(ctx)
	if err != nil {
		logAcquireError(log, "temperatures", err)
	}
	s.Temperatures = make(map[string]float64, len(temps))
	for name, t := range temps {
		s.Temperatures[name] = t
	}

	return s
}

func logAcquireError(log logger.Logger, family string, err error) {
	if errors.HasCode(err, errors.ErrUnavailable) {
		log.Debug().Str("family", family).Err(err).Msg("Metric not available")
		return
	}

	var coded errors.Error
	if errors.As(err, &coded) {
		log.ErrorWithCode(coded).Str("family", family).Msg("Failed to read metric")
		return
	}

	log.Error().Str("family", family).Err(err).Msg("Failed to read metric")
}
