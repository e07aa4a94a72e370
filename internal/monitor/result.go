package monitor

import (
	"fmt"
	"strings"
)

// Result is the outcome of one tick.
type Result struct {
	Snapshot  Snapshot
	Deltas    Deltas
	Anomalies []Anomaly

	// CounterReset is set when a cumulative counter read lower than the
	// baseline and its delta was dropped for this tick.
	CounterReset bool
}

// Severity is warning when any anomaly fired, info otherwise.
func (r Result) Severity() Severity {
	if len(r.Anomalies) > 0 {
		return SeverityWarning
	}

	return SeverityInfo
}

// Summary joins the anomaly details with "; ".
func (r Result) Summary() string {
	details := make([]string, len(r.Anomalies))
	for i, a := range r.Anomalies {
		details[i] = a.Detail
	}

	return strings.Join(details, "; ")
}

// Message renders every raw value of the tick, followed by the anomaly
// summary when there is one.
func (r Result) Message() string {
	s := r.Snapshot
	var b strings.Builder

	if s.CPU != nil {
		fmt.Fprintf(&b, "CPU: %.1f%%", s.CPU.Percent)
	} else {
		b.WriteString("CPU: N/A")
	}

	if s.Memory != nil {
		fmt.Fprintf(&b, " | Memory: %.1f%% used (Total: %d bytes)", s.Memory.Percent, s.Memory.Total)
	} else {
		b.WriteString(" | Memory: N/A")
	}

	if s.Disk != nil {
		fmt.Fprintf(&b, " | Disk Read: %d bytes, Write: %d bytes", s.Disk.ReadBytes, s.Disk.WriteBytes)
	} else {
		b.WriteString(" | Disk: N/A")
	}

	if s.Net != nil {
		fmt.Fprintf(&b, " | Net Sent: %d bytes, Recv: %d bytes, Errors In: %d, Out: %d",
			s.Net.BytesSent, s.Net.BytesRecv, s.Net.ErrIn, s.Net.ErrOut)
	} else {
		b.WriteString(" | Net: N/A")
	}

	if s.Load1 != nil {
		fmt.Fprintf(&b, " | Load Avg (1m): %.2f", *s.Load1)
	} else {
		b.WriteString(" | Load Avg (1m): N/A")
	}

	b.WriteString(" | Temperatures: {")
	for i, name := range sortedSensors(s.Temperatures) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %.1f", name, s.Temperatures[name])
	}
	b.WriteString("}")

	if len(r.Anomalies) > 0 {
		b.WriteString(" | Anomalies: ")
		b.WriteString(r.Summary())
	}

	return b.String()
}
