// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
	"periph.io/x/conn/v3/gpio"
)

// Blink half-periods.
const (
	SlowBlink = 500 * time.Millisecond
	FastBlink = 200 * time.Millisecond
)

// Color of the status LED. With a single green LED only on/off is shown.
type Color uint8

const (
	Green Color = iota
	Yellow
	Red
)

// Pattern is one visual state of the status indicator. Blink 0 means solid.
type Pattern struct {
	Color Color
	Blink time.Duration
}

func (p Pattern) String() string {
	name := [...]string{"green", "yellow", "red"}[p.Color%3]
	switch p.Blink {
	case 0:
		return "solid " + name
	case SlowBlink:
		return "slow-blink " + name
	case FastBlink:
		return "fast-blink " + name
	default:
		return fmt.Sprintf("%v-blink %s", p.Blink, name)
	}
}

// PatternFor maps severity to the indicator pattern.
func PatternFor(s vibration.Severity) Pattern {
	switch s {
	case vibration.Normal:
		return Pattern{Color: Green}
	case vibration.Warning:
		return Pattern{Color: Yellow, Blink: SlowBlink}
	case vibration.Critical:
		return Pattern{Color: Red}
	case vibration.Emergency, vibration.SensorFault:
		return Pattern{Color: Red, Blink: FastBlink}
	default:
		return Pattern{Color: Red, Blink: FastBlink}
	}
}

// Indicator shows a pattern. Show must not block.
type Indicator interface {
	Show(p Pattern)
}

// LEDIndicator drives a green LED and an optional red LED. Yellow lights both.
// Show only stores the pattern; Run does the GPIO writes on its own goroutine.
type LEDIndicator struct {
	green OutputPin
	red   OutputPin

	pattern atomic.Uint64

	lastGreen, lastRed gpio.Level
	written            bool
}

var _ Indicator = (*LEDIndicator)(nil)

// NewLEDIndicator starts on the fast-blink red pattern until the loop shows
// something else. red may be nil.
func NewLEDIndicator(green, red OutputPin) *LEDIndicator {
	l := &LEDIndicator{green: green, red: red}
	l.Show(PatternFor(vibration.SensorFault))
	return l
}

func (l *LEDIndicator) Show(p Pattern) {
	l.pattern.Store(uint64(p.Color)<<56 | uint64(p.Blink))
}

// Current returns the last pattern passed to Show.
func (l *LEDIndicator) Current() Pattern {
	v := l.pattern.Load()
	return Pattern{Color: Color(v >> 56), Blink: time.Duration(v & (1<<56 - 1))}
}

// Levels returns the green and red levels for p at elapsed time t.
func Levels(p Pattern, t time.Duration) (green, red gpio.Level) {
	on := p.Blink == 0 || (t/p.Blink)%2 == 0
	if !on {
		return gpio.Low, gpio.Low
	}
	switch p.Color {
	case Green:
		return gpio.High, gpio.Low
	case Yellow:
		return gpio.High, gpio.High
	default:
		return gpio.Low, gpio.High
	}
}

func (l *LEDIndicator) update(t time.Duration) error {
	g, r := Levels(l.Current(), t)
	if l.red == nil && r == gpio.High {
		// single LED: any lit color lights it
		g = gpio.High
	}
	if l.written && g == l.lastGreen && r == l.lastRed {
		return nil
	}
	if err := l.green.Out(g); err != nil {
		return fmt.Errorf("status led: green: %w", err)
	}
	if l.red != nil {
		if err := l.red.Out(r); err != nil {
			return fmt.Errorf("status led: red: %w", err)
		}
	}
	l.lastGreen, l.lastRed, l.written = g, r, true
	return nil
}

// Run refreshes the LEDs every 50 ms until ctx is done.
func (l *LEDIndicator) Run(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := l.update(time.Since(start)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
