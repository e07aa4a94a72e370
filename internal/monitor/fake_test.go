package monitor_test

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/monitor"
)

// fakeClock advances only when told to, or when the loop sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs after each sleep is recorded
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	now := c.now
	onSleep := c.onSleep
	c.mu.Unlock()

	if onSleep != nil {
		onSleep(n)
	}

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeSource returns fixed readings; a non-nil error field fails its family.
type fakeSource struct {
	clock    *fakeClock
	cpuCost  time.Duration
	snapshot func(tick int) monitor.Snapshot

	cpuErr, countErr, memErr, diskErr, netErr, loadErr, tempErr error

	tick int
	cur  monitor.Snapshot
}

func (f *fakeSource) CPUPercent(context.Context) (float64, error) {
	f.tick++
	if f.snapshot != nil {
		f.cur = f.snapshot(f.tick)
	}
	if f.clock != nil {
		f.clock.Advance(f.cpuCost)
	}
	if f.cpuErr != nil {
		return 0, f.cpuErr
	}
	if f.cur.CPU == nil {
		return 0, nil
	}
	return f.cur.CPU.Percent, nil
}

func (f *fakeSource) CPUCount(context.Context) (int, error) {
	return f.cur.CPUCount, f.countErr
}

func (f *fakeSource) Memory(context.Context) (monitor.MemoryStat, error) {
	if f.memErr != nil || f.cur.Memory == nil {
		return monitor.MemoryStat{}, f.memErr
	}
	return *f.cur.Memory, nil
}

func (f *fakeSource) DiskCounters(context.Context) (monitor.DiskCounters, error) {
	if f.diskErr != nil || f.cur.Disk == nil {
		return monitor.DiskCounters{}, f.diskErr
	}
	return *f.cur.Disk, nil
}

func (f *fakeSource) NetCounters(context.Context) (monitor.NetCounters, error) {
	if f.netErr != nil || f.cur.Net == nil {
		return monitor.NetCounters{}, f.netErr
	}
	return *f.cur.Net, nil
}

func (f *fakeSource) LoadAverage(context.Context) (float64, error) {
	if f.loadErr != nil || f.cur.Load1 == nil {
		return 0, f.loadErr
	}
	return *f.cur.Load1, nil
}

func (f *fakeSource) Temperatures(context.Context) (map[string]float64, error) {
	return f.cur.Temperatures, f.tempErr
}

type captureSink struct {
	results []monitor.Result
}

func (s *captureSink) Emit(res monitor.Result) {
	s.results = append(s.results, res)
}
