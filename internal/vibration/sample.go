// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vibration

import (
	"math"
	"time"
)

// Vec3 is a tri-axial quantity.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Sub returns v - o per axis.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Norm is the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Reading is one read of the sensor bus in physical units.
type Reading struct {
	Accel Vec3 `json:"accel"` // g
	Gyro  Vec3 `json:"gyro"`  // degrees per second
}

// Offsets are the per-axis additive calibration constants.
type Offsets struct {
	Accel Vec3 `json:"accel" yaml:"accel"`
	Gyro  Vec3 `json:"gyro" yaml:"gyro"`
}

// Apply returns the calibrated reading: raw minus offset on every axis.
func (o Offsets) Apply(raw Reading) Reading {
	return Reading{
		Accel: raw.Accel.Sub(o.Accel),
		Gyro:  raw.Gyro.Sub(o.Gyro),
	}
}

// Sample is produced once per sampling tick and never modified afterwards.
type Sample struct {
	Tick       uint64        `json:"tick"`
	Time       time.Duration `json:"time"` // Tick * sample period
	Raw        Reading       `json:"raw"`
	Calibrated Reading       `json:"calibrated"`
	Magnitude  float64       `json:"magnitude"` // g
}

// Record is what the safety loop hands to the telemetry context.
type Record struct {
	Seq      uint64   `json:"seq"`
	Sample   Sample   `json:"sample"`
	Severity Severity `json:"severity"`
	// Fault is set when the sensor read for this tick failed; Sample then only
	// carries Tick and Time.
	Fault bool `json:"fault"`
}
