package main

import (
	"flag"
	"log"

	"github.com/rokoter/LinuxCNC/internal/app"
	"github.com/rokoter/LinuxCNC/internal/config"
)

func main() {
	configPath := flag.String("config", "./vibmon_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting vibration console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
