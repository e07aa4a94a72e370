package monitor

import "sort"

// Baseline holds the cumulative counters of the previous tick. A nil pair
// has not been observed yet.
type Baseline struct {
	Disk *DiskCounters
	Net  *NetCounters
}

// Deltas are the per-interval counter increases of a tick. A nil field
// could not be computed (first tick, missing family, or counter reset).
type Deltas struct {
	DiskRead  *uint64
	DiskWrite *uint64
	NetErrIn  *uint64
	NetErrOut *uint64
}

// Evaluate checks one snapshot against the thresholds and returns the tick's
// result together with the baseline the next tick must use.
func Evaluate(s Snapshot, prev Baseline, th Thresholds) (Result, Baseline) {
	res := Result{Snapshot: s}
	next := prev

	if s.CPU != nil && s.CPU.Percent > th.CPUPercent {
		res.Anomalies = append(res.Anomalies,
			newAnomaly(HighCPU, "High CPU usage: %.1f%%", s.CPU.Percent))
	}

	if s.Memory != nil && s.Memory.Percent > th.MemoryPercent {
		res.Anomalies = append(res.Anomalies,
			newAnomaly(HighMemory, "High Memory usage: %.1f%%", s.Memory.Percent))
	}

	if s.Load1 != nil {
		cores := max(1, s.CPUCount)
		if *s.Load1 > float64(cores)*th.LoadMultiplier {
			res.Anomalies = append(res.Anomalies,
				newAnomaly(HighLoad, "High Load Average: %.2f (CPU count: %d)", *s.Load1, cores))
		}
	}

	for _, name := range sortedSensors(s.Temperatures) {
		temp := s.Temperatures[name]
		if temp > th.TempCelsius {
			a := newAnomaly(HighTemperature, "High temperature on %s: %.1f°C", name, temp)
			a.Sensor = name
			res.Anomalies = append(res.Anomalies, a)
		}
	}

	if s.Disk != nil {
		if prev.Disk != nil {
			res.Deltas.DiskRead = delta(s.Disk.ReadBytes, prev.Disk.ReadBytes)
			res.Deltas.DiskWrite = delta(s.Disk.WriteBytes, prev.Disk.WriteBytes)
			if res.Deltas.DiskRead == nil || res.Deltas.DiskWrite == nil {
				res.CounterReset = true
			}

			if exceeds(res.Deltas.DiskRead, th.DiskIOBytes) {
				res.Anomalies = append(res.Anomalies,
					newAnomaly(HighDiskRead, "High Disk Read: %d bytes in interval", *res.Deltas.DiskRead))
			}
			if exceeds(res.Deltas.DiskWrite, th.DiskIOBytes) {
				res.Anomalies = append(res.Anomalies,
					newAnomaly(HighDiskWrite, "High Disk Write: %d bytes in interval", *res.Deltas.DiskWrite))
			}
		}
		disk := *s.Disk
		next.Disk = &disk
	}

	if s.Net != nil {
		if prev.Net != nil {
			res.Deltas.NetErrIn = delta(s.Net.ErrIn, prev.Net.ErrIn)
			res.Deltas.NetErrOut = delta(s.Net.ErrOut, prev.Net.ErrOut)
			if res.Deltas.NetErrIn == nil || res.Deltas.NetErrOut == nil {
				res.CounterReset = true
			}

			if exceeds(res.Deltas.NetErrIn, th.NetErrors) {
				res.Anomalies = append(res.Anomalies,
					newAnomaly(HighNetworkErrorsIn, "High Incoming Network Errors: %d in interval", *res.Deltas.NetErrIn))
			}
			if exceeds(res.Deltas.NetErrOut, th.NetErrors) {
				res.Anomalies = append(res.Anomalies,
					newAnomaly(HighNetworkErrorsOut, "High Outgoing Network Errors: %d in interval", *res.Deltas.NetErrOut))
			}
		}
		net := *s.Net
		next.Net = &net
	}

	return res, next
}

// delta returns cur-prev, or nil when the counter went backwards. Unsigned
// counters that wrap read lower than the baseline and land here too.
func delta(cur, prev uint64) *uint64 {
	if cur < prev {
		return nil
	}
	d := cur - prev

	return &d
}

func exceeds(d *uint64, limit uint64) bool {
	return d != nil && *d > limit
}

func sortedSensors(temps map[string]float64) []string {
	names := make([]string, 0, len(temps))
	for name := range temps {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Evaluator owns the baseline across ticks.
type Evaluator struct {
	thresholds Thresholds
	baseline   Baseline
}

func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{thresholds: th}
}

// Evaluate evaluates s and advances the baseline.
func (e *Evaluator) Evaluate(s Snapshot) Result {
	res, next := Evaluate(s, e.baseline, e.thresholds)
	e.baseline = next

	return res
}

// Baseline returns a copy of the current baseline.
func (e *Evaluator) Baseline() Baseline {
	b := Baseline{}
	if e.baseline.Disk != nil {
		disk := *e.baseline.Disk
		b.Disk = &disk
	}
	if e.baseline.Net != nil {
		net := *e.baseline.Net
		b.Net = &net
	}

	return b
}
