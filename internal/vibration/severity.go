// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vibration

import "fmt"

// Severity is the classified vibration level. Values are ordered: a larger
// value is always at least as dangerous as a smaller one.
type Severity uint8

const (
	Normal Severity = iota
	Warning
	Critical
	Emergency
	// SensorFault is entered after too many consecutive bus faults. It is not a
	// magnitude band; it ranks above Emergency and asserts the E-stop.
	SensorFault
)

// Bands lists the magnitude bands in ascending order.
var Bands = [...]Severity{Normal, Warning, Critical, Emergency}

func (s Severity) String() string {
	switch s {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Emergency:
		return "emergency"
	case SensorFault:
		return "sensor_fault"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// Label is the upper-case name used by the dashboard and the serial stream.
func (s Severity) Label() string {
	switch s {
	case Normal:
		return "OK"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	case Emergency:
		return "EMERGENCY"
	case SensorFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// ParseLabel is the inverse of Label. "ESTOP" is accepted as Emergency.
func ParseLabel(label string) (Severity, error) {
	switch label {
	case "OK":
		return Normal, nil
	case "WARNING":
		return Warning, nil
	case "CRITICAL":
		return Critical, nil
	case "EMERGENCY", "ESTOP":
		return Emergency, nil
	case "FAULT":
		return SensorFault, nil
	default:
		return Normal, fmt.Errorf("unknown severity label %q", label)
	}
}

// Asserts reports whether the E-stop line must be active at this severity.
func (s Severity) Asserts() bool {
	switch s {
	case Emergency, SensorFault:
		return true
	case Normal, Warning, Critical:
		return false
	default:
		// unknown state is treated as unsafe
		return true
	}
}

// EStopCommand is the only thing the actuator is ever told to do.
type EStopCommand uint8

const (
	Release EStopCommand = iota
	Assert
)

func (c EStopCommand) String() string {
	if c == Assert {
		return "assert"
	}
	return "release"
}

// CommandFor derives the E-stop command from the effective severity.
func CommandFor(s Severity) EStopCommand {
	if s.Asserts() {
		return Assert
	}
	return Release
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	for _, v := range [...]Severity{Normal, Warning, Critical, Emergency, SensorFault} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}
