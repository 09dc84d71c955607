// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/rokoter/LinuxCNC/internal/app"
	"github.com/rokoter/LinuxCNC/internal/config"
)

func main() {
	configPath := flag.String("config", "./vibmon_config.txt", "path to configuration file (KEY=VALUE or .yaml)")
	flag.Parse()

	log.Printf("starting vibration monitor %s (sensor → safety loop → E-stop)", config.FirmwareVersion)

	// Load configuration; an invalid one never starts the safety loop
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunMonitor(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
