// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"

	"github.com/rokoter/LinuxCNC/internal/imu"
	"github.com/rokoter/LinuxCNC/internal/vibration"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// MPU9250Source reads the spindle-mounted MPU9250 over SPI.
type MPU9250Source struct {
	dev   *mpu9250.MPU9250
	scale imu.Scale
}

var _ Reader = (*MPU9250Source)(nil)
var _ imu.IMURawSource = (*MPU9250Source)(nil)

// NewMPU9250Source initializes the sensor, applies the full-scale ranges and
// runs the chip's self test and bias calibration. The machine must be at rest.
func NewMPU9250Source(spiDev, csPin string, scale imu.Scale) (*MPU9250Source, error) {
	if err := scale.Validate(); err != nil {
		return nil, fmt.Errorf("vibration IMU: %w", err)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("vibration IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("vibration IMU: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("vibration IMU: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("vibration IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("vibration IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(scale.AccelRange); err != nil {
		return nil, fmt.Errorf("vibration IMU: set accel range: %w", err)
	}
	log.Printf("vibration IMU: accelerometer range set to %d (±%dg)", scale.AccelRange, imu.AccelFullScaleG(scale.AccelRange))

	if err := dev.SetGyroRange(scale.GyroRange); err != nil {
		return nil, fmt.Errorf("vibration IMU: set gyro range: %w", err)
	}
	log.Printf("vibration IMU: gyroscope range set to %d (±%d°/s)", scale.GyroRange, imu.GyroFullScaleDPS(scale.GyroRange))

	res, err := dev.SelfTest()
	if err != nil {
		log.Printf("Warning: vibration IMU self-test failed: %v", err)
	} else {
		log.Printf("vibration IMU self-test passed:")
		log.Printf("  Accelerometer deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			res.AccelDeviation.X, res.AccelDeviation.Y, res.AccelDeviation.Z)
		log.Printf("  Gyroscope deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			res.GyroDeviation.X, res.GyroDeviation.Y, res.GyroDeviation.Z)
	}

	if err := dev.Calibrate(); err != nil {
		log.Printf("Warning: vibration IMU calibration failed: %v", err)
	} else {
		log.Printf("vibration IMU calibration complete")
	}

	return &MPU9250Source{dev: dev, scale: scale}, nil
}

// ReadRaw reads accelerometer and gyroscope counts.
func (s *MPU9250Source) ReadRaw() (imu.IMURaw, error) {
	var raw imu.IMURaw
	var err error
	if raw.Ax, err = s.dev.GetAccelerationX(); err != nil {
		return imu.IMURaw{}, fmt.Errorf("vibration IMU accel X: %w", err)
	}
	if raw.Ay, err = s.dev.GetAccelerationY(); err != nil {
		return imu.IMURaw{}, fmt.Errorf("vibration IMU accel Y: %w", err)
	}
	if raw.Az, err = s.dev.GetAccelerationZ(); err != nil {
		return imu.IMURaw{}, fmt.Errorf("vibration IMU accel Z: %w", err)
	}
	if raw.Gx, err = s.dev.GetRotationX(); err != nil {
		return imu.IMURaw{}, fmt.Errorf("vibration IMU gyro X: %w", err)
	}
	if raw.Gy, err = s.dev.GetRotationY(); err != nil {
		return imu.IMURaw{}, fmt.Errorf("vibration IMU gyro Y: %w", err)
	}
	if raw.Gz, err = s.dev.GetRotationZ(); err != nil {
		return imu.IMURaw{}, fmt.Errorf("vibration IMU gyro Z: %w", err)
	}
	return raw, nil
}

// Read implements Reader. The SPI transfer is not cancellable; wrap the source
// with WithTimeout to bound it.
func (s *MPU9250Source) Read(_ context.Context) (vibration.Reading, error) {
	raw, err := s.ReadRaw()
	if err != nil {
		return vibration.Reading{}, err
	}
	return s.scale.ToReading(raw), nil
}
