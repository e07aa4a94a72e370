// Package collector reads host metrics through gopsutil.
package collector

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"codeberg.org/mutker/sysmonitor/internal/monitor"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
)

// DefaultCPUWindow is how long CPUPercent observes the CPU.
const DefaultCPUWindow = time.Second

// TemperatureSource contributes extra sensors, e.g. GPUs.
type TemperatureSource interface {
	Temperatures(ctx context.Context) (map[string]float64, error)
}

// Host implements monitor.Source for the local machine.
type Host struct {
	cpuWindow   time.Duration
	extra       []TemperatureSource
	log         logger.Logger
	readSensors func(ctx context.Context) ([]sensors.TemperatureStat, error)
	chipNames   func() []string
}

var _ monitor.Source = (*Host)(nil)

type Option func(*Host)

func WithCPUWindow(d time.Duration) Option {
	return func(h *Host) { h.cpuWindow = d }
}

func WithTemperatureSource(src TemperatureSource) Option {
	return func(h *Host) { h.extra = append(h.extra, src) }
}

func WithLogger(log logger.Logger) Option {
	return func(h *Host) { h.log = log }
}

func New(opts ...Option) *Host {
	h := &Host{
		cpuWindow:   DefaultCPUWindow,
		log:         logger.Default(),
		readSensors: sensors.TemperaturesWithContext,
		chipNames:   hwmonChips,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Host) CPUPercent(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	pct, err := cpu.PercentWithContext(ctx, h.cpuWindow, false)
	if err != nil {
		return 0, errFactory.Wrap(classify(err, ErrCPUReadFailed), err)
	}
	if len(pct) == 0 {
		return 0, errFactory.New(ErrCPUReadFailed)
	}

	return pct[0], nil
}

func (h *Host) CPUCount(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, errors.New().Wrap(classify(err, ErrCPUReadFailed), err)
	}

	return n, nil
}

func (h *Host) Memory(ctx context.Context) (monitor.MemoryStat, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return monitor.MemoryStat{}, errors.New().Wrap(classify(err, ErrMemoryReadFailed), err)
	}

	return monitor.MemoryStat{Percent: vm.UsedPercent, Total: vm.Total}, nil
}

func (h *Host) DiskCounters(ctx context.Context) (monitor.DiskCounters, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return monitor.DiskCounters{}, errors.New().Wrap(classify(err, ErrDiskReadFailed), err)
	}

	return sumDisks(counters), nil
}

func (h *Host) NetCounters(ctx context.Context) (monitor.NetCounters, error) {
	errFactory := errors.New()

	stats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return monitor.NetCounters{}, errFactory.Wrap(classify(err, ErrNetReadFailed), err)
	}
	if len(stats) == 0 {
		return monitor.NetCounters{}, errFactory.New(errors.ErrUnavailable)
	}

	all := stats[0]

	return monitor.NetCounters{
		BytesSent: all.BytesSent,
		BytesRecv: all.BytesRecv,
		ErrIn:     all.Errin,
		ErrOut:    all.Errout,
	}, nil
}

func (h *Host) LoadAverage(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, errors.New().Wrap(classify(err, ErrLoadReadFailed), err)
	}

	return avg.Load1, nil
}

// Temperatures merges the host sensors with every extra source. A source
// that fails still lets the others contribute; the first error is returned
// alongside whatever was read.
func (h *Host) Temperatures(ctx context.Context) (map[string]float64, error) {
	readings := make(map[string]float64)
	var firstErr error

	stats, err := h.readSensors(ctx)
	if err != nil {
		// gopsutil reports unreadable sensors next to the readable ones
		if len(stats) == 0 {
			firstErr = errors.New().Wrap(classify(err, ErrTemperatureReadFailed), err)
		} else {
			h.log.Debug().Err(err).Msg("Some temperature sensors could not be read")
		}
	}
	for name, t := range maxPerChip(stats, h.chipNames()) {
		readings[name] = t
	}

	for _, src := range h.extra {
		extra, err := src.Temperatures(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for name, t := range extra {
			readings[name] = t
		}
	}

	return readings, firstErr
}

// classify maps gopsutil's "not implemented" onto ErrUnavailable so the
// monitor treats it as an expected absence.
func classify(err error, code errors.ErrorCode) errors.ErrorCode {
	if strings.Contains(strings.ToLower(err.Error()), "not implemented") {
		return errors.ErrUnavailable
	}

	return code
}

// maxPerChip reduces readings to one per sensor chip, its hottest entry.
// gopsutil keys readings as "<chip>_<label>"; chip names may contain
// underscores themselves, so the longest known chip prefix wins. Keys that
// match no chip are kept as they are.
func maxPerChip(stats []sensors.TemperatureStat, chips []string) map[string]float64 {
	chips = append([]string(nil), chips...)
	sort.Slice(chips, func(i, j int) bool { return len(chips[i]) > len(chips[j]) })

	out := make(map[string]float64, len(stats))
	for _, s := range stats {
		if s.SensorKey == "" {
			continue
		}
		name := chipOf(s.SensorKey, chips)
		if cur, ok := out[name]; !ok || s.Temperature > cur {
			out[name] = s.Temperature
		}
	}

	return out
}

func chipOf(key string, chips []string) string {
	for _, chip := range chips {
		if key == chip || strings.HasPrefix(key, chip+"_") {
			return chip
		}
	}

	return key
}

const hwmonNames = "/sys/class/hwmon/hwmon*/name"

// hwmonChips lists the hwmon chip names the way gopsutil spells them.
func hwmonChips() []string {
	paths, err := filepath.Glob(hwmonNames)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{}, len(paths))
	chips := make([]string, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(strings.ToLower(string(raw)))
		if _, dup := seen[name]; name == "" || dup {
			continue
		}
		seen[name] = struct{}{}
		chips = append(chips, name)
	}

	return chips
}

var (
	virtualDisk = regexp.MustCompile(`^(loop|ram)\d+$`)
	digits      = regexp.MustCompile(`^\d+$`)
	pDigits     = regexp.MustCompile(`^p\d+$`)
)

// sumDisks adds up whole disks only. Partitions are skipped when their
// parent device is listed, so bytes are not counted twice.
func sumDisks(counters map[string]disk.IOCountersStat) monitor.DiskCounters {
	var total monitor.DiskCounters

	for name, c := range counters {
		if virtualDisk.MatchString(name) || isPartition(name, counters) {
			continue
		}
		total.ReadBytes += c.ReadBytes
		total.WriteBytes += c.WriteBytes
	}

	return total
}

func isPartition(name string, counters map[string]disk.IOCountersStat) bool {
	for parent := range counters {
		if parent == name || !strings.HasPrefix(name, parent) {
			continue
		}

		rest := strings.TrimPrefix(name, parent)
		last := parent[len(parent)-1]
		if last >= '0' && last <= '9' {
			if pDigits.MatchString(rest) {
				return true
			}
		} else if digits.MatchString(rest) {
			return true
		}
	}

	return false
}
