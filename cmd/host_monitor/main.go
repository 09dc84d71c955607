// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/rokoter/LinuxCNC/internal/app"
	"github.com/rokoter/LinuxCNC/internal/config"
)

func main() {
	configPath := flag.String("config", "./vibmon_config.txt", "path to configuration file")
	port := flag.String("port", "", "serial port of the monitor (default: HOST_SERIAL_PORT or the first port found)")
	flag.Parse()

	log.Println("starting vibration host monitor (serial VIB stream → CSV log, MQTT E-stop relay)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if *port != "" {
		cfg.HostSerialPort = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunHostMonitor(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
