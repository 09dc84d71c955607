// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import (
	"fmt"
	"sync/atomic"

	"github.com/rokoter/LinuxCNC/internal/vibration"
	"periph.io/x/conn/v3/gpio"
)

// OutputPin is the part of gpio.PinOut the actuator needs.
type OutputPin interface {
	Out(l gpio.Level) error
}

// Actuator drives the E-stop line. The line must be pulled to its active level
// in hardware so that it reads as E-stop until Apply first releases it.
type Actuator struct {
	pin       OutputPin
	activeLow bool

	driven      bool
	asserted    atomic.Bool
	transitions atomic.Uint64
}

// NewActuator does not touch the pin.
func NewActuator(pin OutputPin, activeLow bool) *Actuator {
	return &Actuator{pin: pin, activeLow: activeLow}
}

func (a *Actuator) level(assert bool) gpio.Level {
	// active low: asserted = Low
	return gpio.Level(assert != a.activeLow)
}

// Apply drives the active level if s asserts the E-stop and the normal level
// otherwise. Repeated calls with the same command do not write the pin again.
// After a failed write the next call retries.
func (a *Actuator) Apply(s vibration.Severity) error {
	cmd := vibration.CommandFor(s)
	assert := cmd == vibration.Assert
	if a.driven && a.asserted.Load() == assert {
		return nil
	}
	if err := a.pin.Out(a.level(assert)); err != nil {
		a.driven = false
		return fmt.Errorf("estop: %s line: %w", cmd, err)
	}
	a.driven = true
	a.asserted.Store(assert)
	a.transitions.Add(1)
	return nil
}

// Asserted reports the last level successfully driven. Safe to call from any
// goroutine.
func (a *Actuator) Asserted() bool {
	return a.asserted.Load()
}

// Transitions counts successful pin writes.
func (a *Actuator) Transitions() uint64 {
	return a.transitions.Load()
}
