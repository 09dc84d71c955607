// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// IMURaw represents a single raw accel+gyro sample in sensor counts.
type IMURaw struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Accelerometer full-scale selectors: 0=±2g, 1=±4g, 2=±8g, 3=±16g.
var accelLSBPerG = [...]float64{16384, 8192, 4096, 2048}

// Gyroscope full-scale selectors: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s.
var gyroLSBPerDPS = [...]float64{131, 65.5, 32.8, 16.4}

// AccelFullScaleG returns the ±g span of an accelerometer range selector.
func AccelFullScaleG(rangeSel byte) int {
	return []int{2, 4, 8, 16}[rangeSel&3]
}

// GyroFullScaleDPS returns the ±°/s span of a gyroscope range selector.
func GyroFullScaleDPS(rangeSel byte) int {
	return []int{250, 500, 1000, 2000}[rangeSel&3]
}

// Scale converts raw counts into physical units.
type Scale struct {
	AccelRange byte
	GyroRange  byte
}

// Validate rejects selectors outside 0..3.
func (s Scale) Validate() error {
	if s.AccelRange > 3 {
		return fmt.Errorf("accel range %d out of range 0-3", s.AccelRange)
	}
	if s.GyroRange > 3 {
		return fmt.Errorf("gyro range %d out of range 0-3", s.GyroRange)
	}
	return nil
}

// ToReading converts counts to g and °/s.
func (s Scale) ToReading(raw IMURaw) vibration.Reading {
	a := accelLSBPerG[s.AccelRange&3]
	g := gyroLSBPerDPS[s.GyroRange&3]
	return vibration.Reading{
		Accel: vibration.Vec3{X: float64(raw.Ax) / a, Y: float64(raw.Ay) / a, Z: float64(raw.Az) / a},
		Gyro:  vibration.Vec3{X: float64(raw.Gx) / g, Y: float64(raw.Gy) / g, Z: float64(raw.Gz) / g},
	}
}

// IMURawSource yields raw samples.
type IMURawSource interface {
	ReadRaw() (IMURaw, error)
}
