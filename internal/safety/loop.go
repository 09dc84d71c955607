// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// DefaultSensorFaultLimit is how many consecutive failed reads hold the
// effective severity before SensorFault is forced.
const DefaultSensorFaultLimit = 3

// RecordSink receives one record per iteration. Push must never block.
type RecordSink interface {
	Push(r vibration.Record)
}

// LoopConfig wires the stages of the safety loop.
type LoopConfig struct {
	Sampler    *Sampler
	Thresholds vibration.ThresholdSet

	// Consecutive samples needed to move to a higher / lower severity.
	EscalateSamples int
	RecoverSamples  int

	// Consecutive faults tolerated before forcing SensorFault.
	FaultLimit int

	Actuator  *Actuator
	Indicator Indicator // optional
	Sink      RecordSink
	Watchdog  Watchdog

	// CPU to pin the loop thread to; negative disables pinning.
	CPU int
}

// Stats are counters readable from any goroutine.
type Stats struct {
	Iterations uint64
	Faults     uint64
	Overruns   uint64
	Effective  vibration.Severity
}

// Loop owns all mutable safety state. Step and Run must be called from one
// goroutine only; RequestThresholds and Stats may be called from any.
type Loop struct {
	sampler    *Sampler
	thresholds vibration.ThresholdSet
	gate       *DebounceGate
	faultLimit int
	actuator   *Actuator
	indicator  Indicator
	sink       RecordSink
	watchdog   Watchdog
	cpu        int

	seq         uint64
	faultStreak int
	classified  bool

	mailbox atomic.Pointer[vibration.ThresholdSet]

	iterations atomic.Uint64
	faults     atomic.Uint64
	overruns   atomic.Uint64
	effective  atomic.Uint32
}

// NewLoop validates the configuration. An invalid threshold set is fatal and
// the error wraps vibration.ErrConfigInvalid.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("safety: %w", err)
	}
	if cfg.Sampler == nil || cfg.Actuator == nil || cfg.Sink == nil || cfg.Watchdog == nil {
		return nil, fmt.Errorf("safety: %w: sampler, actuator, sink and watchdog are required", vibration.ErrConfigInvalid)
	}
	if cfg.FaultLimit < 0 {
		return nil, fmt.Errorf("safety: %w: fault limit must be >= 0, got %d", vibration.ErrConfigInvalid, cfg.FaultLimit)
	}

	return &Loop{
		sampler:    cfg.Sampler,
		thresholds: cfg.Thresholds,
		gate:       NewDebounceGate(cfg.EscalateSamples, cfg.RecoverSamples),
		faultLimit: cfg.FaultLimit,
		actuator:   cfg.Actuator,
		indicator:  cfg.Indicator,
		sink:       cfg.Sink,
		watchdog:   cfg.Watchdog,
		cpu:        cfg.CPU,
	}, nil
}

// RequestThresholds validates ts and hands it to the loop, which adopts it at
// the start of its next iteration.
func (l *Loop) RequestThresholds(ts vibration.ThresholdSet) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	l.mailbox.Store(&ts)
	return nil
}

// Thresholds returns the set currently in use. Only for the loop goroutine.
func (l *Loop) Thresholds() vibration.ThresholdSet {
	return l.thresholds
}

func (l *Loop) Stats() Stats {
	return Stats{
		Iterations: l.iterations.Load(),
		Faults:     l.faults.Load(),
		Overruns:   l.overruns.Load(),
		Effective:  vibration.Severity(l.effective.Load()),
	}
}

// Step runs one acquire, classify, debounce, actuate, indicate, push, feed
// iteration. An actuator or watchdog error is returned before feeding, so a
// caller that stops on error lets the watchdog expire.
//
// The E-stop line is left at its hardware default until the first successful
// classification, unless a sensor fault escalation asserts it first.
func (l *Loop) Step(ctx context.Context) error {
	if ts := l.mailbox.Swap(nil); ts != nil {
		l.thresholds = *ts
	}

	sample, err := l.sampler.Acquire(ctx)
	rec := vibration.Record{Seq: l.seq, Sample: sample}
	l.seq++

	if err != nil {
		if !errors.Is(err, vibration.ErrSensorFault) {
			return err
		}
		l.faults.Add(1)
		l.faultStreak++
		rec.Fault = true
		if l.faultStreak > l.faultLimit {
			l.gate.Force(vibration.SensorFault)
		}
	} else {
		l.faultStreak = 0
		l.gate.Update(Classify(l.gate.Effective(), sample.Magnitude, l.thresholds))
		l.classified = true
	}

	eff := l.gate.Effective()
	rec.Severity = eff

	if l.classified || eff.Asserts() {
		if err := l.actuator.Apply(eff); err != nil {
			return fmt.Errorf("safety: %w", err)
		}
	}
	if l.indicator != nil {
		l.indicator.Show(PatternFor(eff))
	}
	l.sink.Push(rec)
	l.effective.Store(uint32(eff))

	if err := l.watchdog.Feed(); err != nil {
		return fmt.Errorf("safety: feed watchdog: %w", err)
	}
	l.iterations.Add(1)
	return nil
}

// Run locks the calling goroutine to its OS thread, optionally pins it to a
// CPU, and calls Step once per sample period until ctx is done or Step fails.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if l.cpu >= 0 {
		if err := pinThread(l.cpu); err != nil {
			return err
		}
	}

	period := l.sampler.Period()
	log.Printf("safety: loop running at %v period (cpu %d)", period, l.cpu)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		start := time.Now()
		if err := l.Step(ctx); err != nil {
			return err
		}
		if time.Since(start) > period {
			l.overruns.Add(1)
		}
	}
}
