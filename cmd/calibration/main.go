// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Stationary offset calibration for the vibration sensor.
//
// Run with the spindle stopped and the sensor mounted in its working
// position. The tool captures a few seconds of samples, checks the sensor was
// still, and prints ACCEL_OFFSET_* / GYRO_OFFSET_* lines for the config file.
// With -write the offsets are merged into a YAML config.
//
// Run:
//
//	go run ./cmd/calibration -config vibmon_config.txt
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rokoter/LinuxCNC/internal/calibration"
	"github.com/rokoter/LinuxCNC/internal/config"
	"github.com/rokoter/LinuxCNC/internal/imu"
	"github.com/rokoter/LinuxCNC/internal/sensors"
)

func main() {
	in := bufio.NewReader(os.Stdin)

	configPath := flag.String("config", "vibmon_config.txt", "Path to configuration file")
	samples := flag.Int("samples", calibration.DefaultSamples, "number of samples to capture")
	write := flag.String("write", "", "write the calibrated configuration to this YAML file")
	jsonOut := flag.Bool("json", false, "also print the full result as JSON")
	flag.Parse()

	fmt.Println("=== Vibration sensor offset calibration ===")
	fmt.Println()

	if err := config.InitGlobal(*configPath); err != nil {
		fatal(fmt.Errorf("failed to load config from %s: %w", *configPath, err))
	}
	cfg := config.Get()

	reader, err := sensors.Open(sensors.Options{
		Kind:      cfg.Sensor,
		SPIDevice: cfg.IMUSPIDevice,
		CSPin:     cfg.IMUCSPin,
		Scale:     imu.Scale{AccelRange: cfg.IMUAccelRange, GyroRange: cfg.IMUGyroRange},
		Mock:      sensors.MockProfile{Seed: 1, NoiseG: 0.002},
	})
	if err != nil {
		fatal(fmt.Errorf("sensor init failed: %w", err))
	}

	period := cfg.SamplePeriod()
	fmt.Println("Stop the spindle and all axis motion. Do not touch the machine.")
	waitEnter(in, fmt.Sprintf("Press ENTER to capture %d samples (%.1fs)...", *samples, (time.Duration(*samples) * period).Seconds()))

	readings, err := calibration.Capture(context.Background(), reader, *samples, period)
	if err != nil {
		fatal(err)
	}

	res, err := calibration.Compute(readings)
	fmt.Printf("\nAccel mean (g):   X=%.4f Y=%.4f Z=%.4f | stddev X=%.4f Y=%.4f Z=%.4f\n",
		res.Accel.Mean.X, res.Accel.Mean.Y, res.Accel.Mean.Z,
		res.Accel.StdDev.X, res.Accel.StdDev.Y, res.Accel.StdDev.Z)
	fmt.Printf("Gyro mean (dps):  X=%.3f Y=%.3f Z=%.3f | stddev X=%.3f Y=%.3f Z=%.3f\n",
		res.Gyro.Mean.X, res.Gyro.Mean.Y, res.Gyro.Mean.Z,
		res.Gyro.StdDev.X, res.Gyro.StdDev.Y, res.Gyro.StdDev.Z)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Gravity axis: %s | confidence=%.2f\n\n", res.GravityAxis, res.Confidence)
	fmt.Println("Add these lines to the configuration file:")
	for _, l := range res.ConfigLines() {
		fmt.Println(l)
	}

	if *jsonOut {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Printf("\n%s\n", b)
	}

	if *write != "" {
		cfg.Offsets = res.Offsets
		if err := cfg.Save(*write); err != nil {
			fatal(err)
		}
		fmt.Printf("\nWrote: %s\n", *write)
	}
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
