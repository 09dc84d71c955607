// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package safety implements the real-time path from sensor read to E-stop
// line: sampling, classification, debounce, actuation and watchdog feeding.
package safety

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// Sample rate limits in Hz.
const (
	MinSampleRateHz     = 10
	MaxSampleRateHz     = 200
	DefaultSampleRateHz = 100
)

// SensorBus is the get-reading boundary. sensors.Reader satisfies it.
type SensorBus interface {
	Read(ctx context.Context) (vibration.Reading, error)
}

// SamplePeriod converts a sample rate into a period, rejecting rates outside
// the supported range.
func SamplePeriod(hz int) (time.Duration, error) {
	if hz < MinSampleRateHz || hz > MaxSampleRateHz {
		return 0, fmt.Errorf("%w: sample rate %d Hz outside %d-%d Hz",
			vibration.ErrConfigInvalid, hz, MinSampleRateHz, MaxSampleRateHz)
	}
	return time.Second / time.Duration(hz), nil
}

// Sampler is the calibrated acquisition stage. It is owned by the safety loop
// and is not safe for concurrent use.
type Sampler struct {
	bus     SensorBus
	offsets vibration.Offsets
	period  time.Duration
	tick    uint64
}

func NewSampler(bus SensorBus, offsets vibration.Offsets, period time.Duration) *Sampler {
	return &Sampler{bus: bus, offsets: offsets, period: period}
}

// Period returns the fixed sample period.
func (s *Sampler) Period() time.Duration {
	return s.period
}

// Acquire reads the bus once and returns the calibrated sample. The tick
// advances on every call, faulted or not. On a bus error or a non-finite
// reading the returned Sample carries only Tick and Time and the error wraps
// vibration.ErrSensorFault.
func (s *Sampler) Acquire(ctx context.Context) (vibration.Sample, error) {
	out := vibration.Sample{Tick: s.tick, Time: time.Duration(s.tick) * s.period}
	s.tick++

	raw, err := s.bus.Read(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, fmt.Errorf("%w: %v", vibration.ErrSensorFault, err)
	}
	if !finite(raw.Accel) || !finite(raw.Gyro) {
		return out, fmt.Errorf("%w: non-finite reading", vibration.ErrSensorFault)
	}

	out.Raw = raw
	out.Calibrated = s.offsets.Apply(raw)
	out.Magnitude = out.Calibrated.Accel.Norm()
	return out, nil
}

func finite(v vibration.Vec3) bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
