// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration derives per-axis sensor offsets from a stationary
// capture.
//
// The sensor must rest on the machine bed with the spindle stopped. The mean
// of every axis becomes its offset, except that 1 g of gravity is left on the
// axis that carries it, so a calibrated sensor at rest still reads 1 g.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

const (
	DefaultSamples = 500

	// Standard deviation limits above which the capture was not still.
	MaxAccelStdDevG  = 0.05
	MaxGyroStdDevDPS = 2.0

	minSamples        = 10
	minGravityG       = 0.5
	stillConfidenceAt = 0.25 // fraction of the limit that still scores 1.0
)

// ErrNotStill is returned when the sensor moved during the capture.
var ErrNotStill = errors.New("calibration: sensor was not still")

// Reader is the sensor being calibrated.
type Reader interface {
	Read(ctx context.Context) (vibration.Reading, error)
}

// AxisStats are per-axis mean and sample standard deviation.
type AxisStats struct {
	Mean   vibration.Vec3 `json:"mean"`
	StdDev vibration.Vec3 `json:"stddev"`
}

type Result struct {
	At          time.Time         `json:"at"`
	Samples     int               `json:"samples"`
	Accel       AxisStats         `json:"accel"`
	Gyro        AxisStats         `json:"gyro"`
	GravityAxis string            `json:"gravity_axis"`
	Offsets     vibration.Offsets `json:"offsets"`
	Confidence  float64           `json:"confidence"`
}

// Capture reads n samples, one per period.
func Capture(ctx context.Context, r Reader, n int, period time.Duration) ([]vibration.Reading, error) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	out := make([]vibration.Reading, 0, n)
	for len(out) < n {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-ticker.C:
		}
		rd, err := r.Read(ctx)
		if err != nil {
			return out, fmt.Errorf("calibration: sample %d: %w", len(out), err)
		}
		out = append(out, rd)
	}
	return out, nil
}

func axisStats(vs []vibration.Vec3) AxisStats {
	xs := make([]float64, len(vs))
	ys := make([]float64, len(vs))
	zs := make([]float64, len(vs))
	for i, v := range vs {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	var s AxisStats
	s.Mean.X, s.StdDev.X = stat.MeanStdDev(xs, nil)
	s.Mean.Y, s.StdDev.Y = stat.MeanStdDev(ys, nil)
	s.Mean.Z, s.StdDev.Z = stat.MeanStdDev(zs, nil)
	return s
}

func maxAxis(v vibration.Vec3) float64 {
	return math.Max(v.X, math.Max(v.Y, v.Z))
}

// Compute derives offsets from a stationary capture. It fails with
// ErrNotStill when any axis varied more than the stillness limits.
func Compute(readings []vibration.Reading) (Result, error) {
	if len(readings) < minSamples {
		return Result{}, fmt.Errorf("calibration: need at least %d samples, got %d", minSamples, len(readings))
	}

	accel := make([]vibration.Vec3, len(readings))
	gyro := make([]vibration.Vec3, len(readings))
	for i, r := range readings {
		accel[i], gyro[i] = r.Accel, r.Gyro
	}

	res := Result{
		At:      time.Now(),
		Samples: len(readings),
		Accel:   axisStats(accel),
		Gyro:    axisStats(gyro),
	}

	aStd, gStd := maxAxis(res.Accel.StdDev), maxAxis(res.Gyro.StdDev)
	if aStd > MaxAccelStdDevG || gStd > MaxGyroStdDevDPS {
		return res, fmt.Errorf("%w: accel stddev %.4f g (max %.2f), gyro stddev %.3f dps (max %.1f)",
			ErrNotStill, aStd, MaxAccelStdDevG, gStd, MaxGyroStdDevDPS)
	}

	res.Offsets.Gyro = res.Gyro.Mean
	res.Offsets.Accel = res.Accel.Mean

	// gravity stays on its axis
	m := res.Accel.Mean
	axis, g := "z", &res.Offsets.Accel.Z
	if math.Abs(m.X) > math.Abs(m.Y) && math.Abs(m.X) > math.Abs(m.Z) {
		axis, g = "x", &res.Offsets.Accel.X
	} else if math.Abs(m.Y) > math.Abs(m.Z) {
		axis, g = "y", &res.Offsets.Accel.Y
	}
	if math.Abs(*g) < minGravityG {
		return res, fmt.Errorf("calibration: no axis carries gravity (largest mean %.3f g)", *g)
	}
	*g -= math.Copysign(1, *g)
	res.GravityAxis = axis

	res.Confidence = math.Min(stillness(aStd, MaxAccelStdDevG), stillness(gStd, MaxGyroStdDevDPS))
	return res, nil
}

// stillness scores a standard deviation against its limit: 1.0 up to a
// quarter of the limit, falling linearly to 0.05 at the limit.
func stillness(std, limit float64) float64 {
	good := limit * stillConfidenceAt
	if std <= good {
		return 1
	}
	t := (std - good) / (limit - good)
	return math.Max(0.05, 1-0.95*t)
}

// ConfigLines renders the offsets as KEY=VALUE configuration lines.
func (r Result) ConfigLines() []string {
	o := r.Offsets
	return []string{
		fmt.Sprintf("ACCEL_OFFSET_X=%.4f", o.Accel.X),
		fmt.Sprintf("ACCEL_OFFSET_Y=%.4f", o.Accel.Y),
		fmt.Sprintf("ACCEL_OFFSET_Z=%.4f", o.Accel.Z),
		fmt.Sprintf("GYRO_OFFSET_X=%.4f", o.Gyro.X),
		fmt.Sprintf("GYRO_OFFSET_Y=%.4f", o.Gyro.Y),
		fmt.Sprintf("GYRO_OFFSET_Z=%.4f", o.Gyro.Z),
	}
}
