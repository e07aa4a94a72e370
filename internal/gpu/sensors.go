// Package gpu exposes NVIDIA GPU temperatures as monitor sensors.
package gpu

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type device struct {
	sensor string
	handle nvml.Device
}

// Sensors reads the core temperature of every NVIDIA GPU on the host.
type Sensors struct {
	ctrl    nvmlController
	devices []device
	log     logger.Logger
	mu      sync.Mutex
}

// New initializes NVML and discovers the GPUs. Without an NVIDIA driver it
// returns an errors.ErrUnavailable error.
func New(log logger.Logger) (*Sensors, error) {
	return newSensors(&nvmlWrapper{}, log)
}

func newSensors(ctrl nvmlController, log logger.Logger) (*Sensors, error) {
	errFactory := errors.New()

	if err := ctrl.Initialize(); err != nil {
		return nil, err
	}

	count, err := ctrl.GetDeviceCount()
	if err != nil {
		_ = ctrl.Shutdown()
		return nil, err
	}

	s := &Sensors{ctrl: ctrl, log: log}
	for i := 0; i < count; i++ {
		handle, err := ctrl.GetDevice(i)
		if err != nil {
			_ = ctrl.Shutdown()
			return nil, err
		}

		d := device{sensor: fmt.Sprintf("nvidia_gpu%d", i), handle: handle}
		if name, ret := handle.GetName(); IsNVMLSuccess(ret) {
			log.Info().Str("sensor", d.sensor).Msgf("Detected GPU: %v", name)
		} else {
			log.Debug().Str("sensor", d.sensor).Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
		}
		s.devices = append(s.devices, d)
	}

	if len(s.devices) == 0 {
		_ = ctrl.Shutdown()
		return nil, errFactory.Wrap(errors.ErrUnavailable, errFactory.New(ErrDeviceNotFound))
	}

	return s, nil
}

// Temperatures returns one reading per GPU keyed "nvidia_gpu<index>". GPUs
// that fail to answer are left out and the first failure is returned.
func (s *Sensors) Temperatures(_ context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()
	readings := make(map[string]float64, len(s.devices))
	var firstErr error

	for _, d := range s.devices {
		temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU)
		if !IsNVMLSuccess(ret) {
			if firstErr == nil {
				firstErr = errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret)).WithData(d.sensor)
			}
			continue
		}
		readings[d.sensor] = float64(temp)
	}

	return readings, firstErr
}

func (s *Sensors) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctrl.Shutdown()
}
