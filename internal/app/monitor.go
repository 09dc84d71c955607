// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/rokoter/LinuxCNC/internal/config"
	"github.com/rokoter/LinuxCNC/internal/eventlog"
	"github.com/rokoter/LinuxCNC/internal/imu"
	"github.com/rokoter/LinuxCNC/internal/safety"
	"github.com/rokoter/LinuxCNC/internal/sensors"
	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// logPin stands in for a GPIO line on a bench setup without hardware.
type logPin struct {
	name string
	last gpio.Level
	set  bool
}

func (p *logPin) Out(l gpio.Level) error {
	if !p.set || p.last != l {
		log.Printf("gpio: %s -> %v", p.name, l)
	}
	p.last, p.set = l, true
	return nil
}

// outputPin resolves a GPIO by name. An empty name yields a logging stand-in
// when allowMissing is set.
func outputPin(name, role string, allowMissing bool) (safety.OutputPin, error) {
	if name == "" {
		if allowMissing {
			log.Printf("monitor: no %s pin configured, logging its level instead", role)
			return &logPin{name: role}, nil
		}
		return nil, fmt.Errorf("%w: %s pin not configured", vibration.ErrConfigInvalid, role)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%s pin %s not found", role, name)
	}
	return pin, nil
}

func sensorOptions(cfg *config.Config) sensors.Options {
	return sensors.Options{
		Kind:      cfg.Sensor,
		SPIDevice: cfg.IMUSPIDevice,
		CSPin:     cfg.IMUCSPin,
		Scale:     imu.Scale{AccelRange: cfg.IMUAccelRange, GyroRange: cfg.IMUGyroRange},
		Mock: sensors.MockProfile{
			Seed:       1,
			NoiseG:     cfg.MockNoiseG,
			BurstEvery: cfg.MockBurstEvery,
			BurstLen:   cfg.MockBurstLen,
			BurstG:     cfg.MockBurstG,
		},
	}
}

func openWatchdog(cfg *config.Config, onExpire func(error)) (safety.Watchdog, error) {
	timeout := time.Duration(cfg.WatchdogTimeoutMS) * time.Millisecond
	if cfg.WatchdogDevice != "" {
		wd, err := safety.OpenDeviceWatchdog(cfg.WatchdogDevice, timeout)
		if err != nil {
			return nil, err
		}
		log.Printf("monitor: hardware watchdog %s armed (%v)", cfg.WatchdogDevice, timeout)
		return wd, nil
	}
	log.Printf("monitor: software watchdog armed (%v)", timeout)
	return safety.NewSoftWatchdog(timeout, onExpire), nil
}

// RunMonitor runs the safety loop and every telemetry consumer until SIGINT or
// SIGTERM. It returns an error when the loop stopped for any other reason;
// the E-stop is asserted in both cases.
func RunMonitor() error {
	cfg := config.Get()

	period := cfg.SamplePeriod()
	escalateDur, recoverDur := cfg.Debounce()

	reader, err := sensors.Open(sensorOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to open sensor: %w", err)
	}
	bus := sensors.WithTimeout(reader, time.Duration(cfg.SensorReadTimeoutMS)*time.Millisecond)

	mock := cfg.Sensor == config.SensorMock
	estopPin, err := outputPin(cfg.EStopPin, "estop", mock)
	if err != nil {
		return err
	}
	actuator := safety.NewActuator(estopPin, cfg.EStopActiveLow)

	var indicator safety.Indicator
	var leds *safety.LEDIndicator
	if cfg.StatusLEDPin != "" {
		green, err := outputPin(cfg.StatusLEDPin, "status led", false)
		if err != nil {
			return err
		}
		var red safety.OutputPin
		if cfg.StatusLEDAlertPin != "" {
			if red, err = outputPin(cfg.StatusLEDAlertPin, "alert led", false); err != nil {
				return err
			}
		}
		leds = safety.NewLEDIndicator(green, red)
		indicator = leds
	}

	ring := telemetry.NewRing(cfg.TelemetryBuffer)
	hub := telemetry.NewHub(ring, telemetry.HubOptions{
		DrainInterval: time.Duration(cfg.DrainIntervalMS) * time.Millisecond,
		RMSWindow:     cfg.RMSWindow,
	})

	var (
		store   eventStore
		markers markerStore
	)
	if cfg.EventDBPath != "" {
		s, err := eventlog.Open(cfg.EventDBPath)
		if err != nil {
			log.Printf("monitor: event log disabled: %v", err)
		} else {
			defer s.Close()
			store, markers = s, s
		}
	}

	var trigger gpio.PinIn
	if cfg.TriggerInputPin != "" {
		if trigger, err = inputPin(cfg.TriggerInputPin); err != nil {
			return err
		}
	}

	// armed from here on: nothing slow between this and loop.Run
	assertLevel := gpio.Low
	if !cfg.EStopActiveLow {
		assertLevel = gpio.High
	}
	watchdog, err := openWatchdog(cfg, func(err error) {
		log.Printf("monitor: %v, asserting E-stop and exiting", err)
		if err := estopPin.Out(assertLevel); err != nil {
			log.Printf("monitor: estop write failed: %v", err)
		}
		os.Exit(2)
	})
	if err != nil {
		return err
	}

	loop, err := safety.NewLoop(safety.LoopConfig{
		Sampler:         safety.NewSampler(bus, cfg.Offsets, period),
		Thresholds:      cfg.Thresholds,
		EscalateSamples: safety.DebounceSamples(escalateDur, period),
		RecoverSamples:  safety.DebounceSamples(recoverDur, period),
		FaultLimit:      cfg.SensorFaultLimit,
		Actuator:        actuator,
		Indicator:       indicator,
		Sink:            ring,
		Watchdog:        watchdog,
		CPU:             cfg.SafetyCPU,
	})
	if err != nil {
		watchdog.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the safety loop runs first; everything else only observes it
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	tctx, cancelTelemetry := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	spawn := func(name string, f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(tctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("monitor: %s stopped: %v", name, err)
			}
		}()
	}

	spawn("hub", hub.Run)
	if leds != nil {
		spawn("status led", leds.Run)
	}
	if store != nil {
		spawn("event log", func(ctx context.Context) error {
			return recordEvents(ctx, hub, store)
		})
	}

	if trigger != nil {
		spawn("trigger", func(ctx context.Context) error {
			return watchTrigger(ctx, trigger, hub, markers)
		})
	}

	dash := NewDashboard(hub, loop, store, cfg.Thresholds, cfg.WebSocketUpdateHz, config.FirmwareVersion)
	if cfg.WebServerPort > 0 {
		spawn("web", func(ctx context.Context) error {
			return RunWeb(ctx, cfg.WebServerPort, dash.Handler(cfg.WebRoot))
		})
	}
	if cfg.SerialExportPort != "" {
		spawn("serial export", func(ctx context.Context) error {
			return RunSerialExport(ctx, cfg.SerialExportPort, cfg.SerialBaudRate, hub, config.FirmwareVersion,
				time.Duration(cfg.StatusIntervalS)*time.Second)
		})
	}
	if cfg.MQTTBroker != "" {
		spawn("mqtt", func(ctx context.Context) error {
			return RunMQTTPublisher(ctx, cfg, hub, dash.Thresholds)
		})
	}
	if cfg.DisplayEnabled {
		spawn("display", func(ctx context.Context) error {
			return RunDisplay(ctx, cfg.DisplayBus, time.Duration(cfg.DisplayUpdateInterval)*time.Millisecond, hub)
		})
	}

	log.Printf("monitor: running (%s sensor, %d Hz, thresholds %.2f/%.2f/%.2f g, hysteresis %.2f g)",
		cfg.Sensor, cfg.SampleRateHz, cfg.Thresholds.Warning, cfg.Thresholds.Critical,
		cfg.Thresholds.Emergency, cfg.Thresholds.Hysteresis)

	err = <-loopErr
	clean := errors.Is(err, context.Canceled)

	// the loop goroutine is gone, so the actuator has a single user again
	if aerr := actuator.Apply(vibration.Emergency); aerr != nil {
		log.Printf("monitor: %v", aerr)
	}
	if clean {
		log.Println("monitor: shutting down, E-stop asserted")
		if werr := watchdog.Close(); werr != nil {
			log.Printf("monitor: %v", werr)
		}
	} else {
		log.Printf("monitor: safety loop stopped: %v", err)
	}

	cancelTelemetry()
	wg.Wait()

	st := loop.Stats()
	log.Printf("monitor: %d iterations, %d sensor faults, %d overruns, %d records dropped",
		st.Iterations, st.Faults, st.Overruns, ring.Dropped())

	if clean {
		return nil
	}
	return err
}

// recordEvents persists every severity transition.
func recordEvents(ctx context.Context, hub *telemetry.Hub, store eventStore) error {
	events, unsubscribe := hub.SubscribeEvents(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := store.Record(ev); err != nil {
				log.Printf("monitor: %v", err)
			}
		}
	}
}
