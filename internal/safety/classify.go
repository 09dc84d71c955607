// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import "github.com/rokoter/LinuxCNC/internal/vibration"

// Classify returns the candidate severity for magnitude given the current
// effective severity.
//
// Escalation is immediate: if magnitude falls in a band above current, that
// band is returned. De-escalation steps down one boundary at a time, and only
// while magnitude < cutoff(band) - hysteresis. SensorFault (and any unknown
// value) ranks above Emergency, so a valid reading always yields a band at or
// below Emergency from there. A NaN magnitude classifies as Emergency and never
// de-escalates.
func Classify(current vibration.Severity, magnitude float64, ts vibration.ThresholdSet) vibration.Severity {
	raw := ts.Band(magnitude)

	level := current
	if level > vibration.Emergency {
		level = vibration.Emergency
	}
	if raw > level {
		return raw
	}

	for level > vibration.Normal && magnitude < ts.Cutoff(level)-ts.Hysteresis {
		level--
	}
	return level
}
