package main

import (
	"flag"
	"log"
	"time"

	"github.com/rokoter/LinuxCNC/internal/app"
	"github.com/rokoter/LinuxCNC/internal/config"
)

func main() {
	configPath := flag.String("config", "./vibmon_config.txt", "path to configuration file")
	every := flag.Duration("every", 100*time.Millisecond, "print interval")
	flag.Parse()

	log.Println("starting vibration sensor console (no E-stop output)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunSensorConsole(*every); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
