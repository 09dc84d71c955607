// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"

	"github.com/rokoter/LinuxCNC/internal/imu"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// Reader returns one accel+gyro reading in physical units.
type Reader interface {
	Read(ctx context.Context) (vibration.Reading, error)
}

// Sensor kinds accepted by Open.
const (
	KindMPU9250 = "mpu9250"
	KindMock    = "mock"
)

// Options selects and configures the vibration sensor.
type Options struct {
	Kind      string
	SPIDevice string
	CSPin     string
	Scale     imu.Scale
	Mock      MockProfile
}

// Open returns the configured sensor.
func Open(opts Options) (Reader, error) {
	switch opts.Kind {
	case KindMPU9250, "":
		return NewMPU9250Source(opts.SPIDevice, opts.CSPin, opts.Scale)
	case KindMock:
		return NewMockSource(opts.Mock), nil
	default:
		return nil, fmt.Errorf("unknown sensor kind %q", opts.Kind)
	}
}
