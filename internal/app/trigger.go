package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/rokoter/LinuxCNC/internal/telemetry"
)

const triggerPoll = 100 * time.Millisecond

type markerStore interface {
	RecordMarker(at time.Time, seq uint64, magnitude float64, source string) error
}

func inputPin(name string) (gpio.PinIn, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("trigger pin %s not found", name)
	}
	return pin, nil
}

// watchTrigger marks the record stream on every rising edge of the
// controller's sync input, so a machining run can be lined up with the log.
// store may be nil; marks are then only logged.
func watchTrigger(ctx context.Context, pin gpio.PinIn, hub *telemetry.Hub, store markerStore) error {
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return fmt.Errorf("trigger: configure %s: %w", pin, err)
	}
	log.Printf("trigger: watching %s", pin)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !pin.WaitForEdge(triggerPoll) {
			continue
		}

		snap := hub.Snapshot()
		at := time.Now()
		log.Printf("trigger: mark at seq %d (%.3f g, %s)", snap.Latest.Seq, snap.Latest.Sample.Magnitude, snap.Status)
		if store == nil {
			continue
		}
		if err := store.RecordMarker(at, snap.Latest.Seq, snap.Latest.Sample.Magnitude, "trigger"); err != nil {
			log.Printf("trigger: %v", err)
		}
	}
}
