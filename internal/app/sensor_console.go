// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rokoter/LinuxCNC/internal/config"
	"github.com/rokoter/LinuxCNC/internal/safety"
	"github.com/rokoter/LinuxCNC/internal/sensors"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// RunSensorConsole prints calibrated readings and their undebounced band at
// the configured rate. It never touches the E-stop line; use it to check the
// sensor mounting and offsets.
func RunSensorConsole(every time.Duration) error {
	cfg := config.Get()

	src, err := sensors.Open(sensorOptions(cfg))
	if err != nil {
		return err
	}
	sampler := safety.NewSampler(sensors.WithTimeout(src, time.Duration(cfg.SensorReadTimeoutMS)*time.Millisecond), cfg.Offsets, cfg.SamplePeriod())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.SamplePeriod())
	defer ticker.Stop()

	var (
		band      = vibration.Normal
		lastPrint time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s, err := sampler.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("FAULT  %v\n", err)
			continue
		}
		band = safety.Classify(band, s.Magnitude, cfg.Thresholds)

		if time.Since(lastPrint) < every {
			continue
		}
		lastPrint = time.Now()
		a, g := s.Calibrated.Accel, s.Calibrated.Gyro
		fmt.Printf(
			"t=%7dms  ax=%7.3f ay=%7.3f az=%7.3f  gx=%8.2f gy=%8.2f gz=%8.2f  |a|=%6.3f g  %s\n",
			s.Time.Milliseconds(), a.X, a.Y, a.Z, g.X, g.Y, g.Z, s.Magnitude, band.Label(),
		)
	}
}
