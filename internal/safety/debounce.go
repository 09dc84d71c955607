// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import (
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// DebounceSamples is ceil(debounce/period), at least 1.
func DebounceSamples(debounce, period time.Duration) int {
	if period <= 0 || debounce <= 0 {
		return 1
	}
	n := int((debounce + period - 1) / period)
	if n < 1 {
		return 1
	}
	return n
}

// DebounceGate holds the effective severity and only moves it after a
// candidate has been proposed on enough consecutive samples. Escalations wait
// for escalate samples and recoveries for recover samples. Emergency follows
// the same rule as every other band.
type DebounceGate struct {
	escalate int
	recover  int

	effective vibration.Severity
	pending   vibration.Severity
	count     int
}

// NewDebounceGate starts at Normal with nothing pending. Windows below 1 are
// raised to 1.
func NewDebounceGate(escalate, recover int) *DebounceGate {
	return &DebounceGate{escalate: max(escalate, 1), recover: max(recover, 1)}
}

// Update feeds one candidate and returns the effective severity afterwards.
func (g *DebounceGate) Update(candidate vibration.Severity) vibration.Severity {
	if candidate == g.effective {
		g.pending, g.count = candidate, 0
		return g.effective
	}

	if g.count == 0 || candidate != g.pending {
		g.pending, g.count = candidate, 1
	} else {
		g.count++
	}

	need := g.escalate
	if candidate < g.effective {
		need = g.recover
	}
	if g.count >= need {
		g.effective = candidate
		g.count = 0
	}
	return g.effective
}

// Effective returns the debounced severity.
func (g *DebounceGate) Effective() vibration.Severity {
	return g.effective
}

// Pending returns the candidate being counted and how many consecutive
// samples proposed it. The count is 0 when nothing is pending.
func (g *DebounceGate) Pending() (vibration.Severity, int) {
	if g.count == 0 {
		return g.effective, 0
	}
	return g.pending, g.count
}

// Force sets the effective severity without debouncing and clears any
// pending candidate. Used for the sensor fault escalation.
func (g *DebounceGate) Force(s vibration.Severity) {
	g.effective = s
	g.pending, g.count = s, 0
}
