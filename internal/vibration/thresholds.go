// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vibration

import (
	"fmt"
	"math"
)

// ThresholdSet holds the band cutoffs in g and the shared hysteresis margin.
type ThresholdSet struct {
	Warning    float64 `json:"warning" yaml:"warning"`
	Critical   float64 `json:"critical" yaml:"critical"`
	Emergency  float64 `json:"emergency" yaml:"emergency"`
	Hysteresis float64 `json:"hysteresis" yaml:"hysteresis"`
}

// DefaultThresholds matches the stock firmware configuration.
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{Warning: 2.0, Critical: 4.0, Emergency: 6.0, Hysteresis: 0.2}
}

// Validate checks the ordering and hysteresis invariants. The hysteresis must
// be smaller than every band width, otherwise two bands could never be told
// apart while descending.
func (t ThresholdSet) Validate() error {
	for name, v := range map[string]float64{
		"warning": t.Warning, "critical": t.Critical, "emergency": t.Emergency, "hysteresis": t.Hysteresis,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s threshold is not a finite number", ErrConfigInvalid, name)
		}
	}
	if t.Warning <= 0 {
		return fmt.Errorf("%w: warning threshold must be > 0, got %.3f", ErrConfigInvalid, t.Warning)
	}
	if !(t.Warning < t.Critical && t.Critical < t.Emergency) {
		return fmt.Errorf("%w: thresholds must satisfy warning < critical < emergency, got %.3f/%.3f/%.3f",
			ErrConfigInvalid, t.Warning, t.Critical, t.Emergency)
	}
	if t.Hysteresis < 0 {
		return fmt.Errorf("%w: hysteresis must be >= 0, got %.3f", ErrConfigInvalid, t.Hysteresis)
	}
	if gap := t.smallestGap(); t.Hysteresis >= gap {
		return fmt.Errorf("%w: hysteresis %.3f must be smaller than the narrowest band (%.3f)",
			ErrConfigInvalid, t.Hysteresis, gap)
	}
	return nil
}

func (t ThresholdSet) smallestGap() float64 {
	return math.Min(t.Warning, math.Min(t.Critical-t.Warning, t.Emergency-t.Critical))
}

// Cutoff returns the magnitude at which band s begins. Normal begins at 0.
func (t ThresholdSet) Cutoff(s Severity) float64 {
	switch s {
	case Normal:
		return 0
	case Warning:
		return t.Warning
	case Critical:
		return t.Critical
	case Emergency, SensorFault:
		return t.Emergency
	default:
		return t.Emergency
	}
}

// Band returns the highest band whose cutoff is at or below magnitude,
// without hysteresis. NaN is treated as Emergency.
func (t ThresholdSet) Band(magnitude float64) Severity {
	switch {
	case math.IsNaN(magnitude), magnitude >= t.Emergency:
		return Emergency
	case magnitude >= t.Critical:
		return Critical
	case magnitude >= t.Warning:
		return Warning
	default:
		return Normal
	}
}
