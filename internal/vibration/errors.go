// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vibration

import "errors"

var (
	// ErrSensorFault is returned when the sensor bus NACKs or a read exceeds its
	// bounded timeout. The safety loop holds the last severity for a bounded
	// fault streak and then escalates to SensorFault.
	ErrSensorFault = errors.New("sensor fault")

	// ErrConfigInvalid marks a configuration that must not start the safety loop.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrWatchdogTimeout is reported by the software watchdog when it was not fed
	// in time.
	ErrWatchdogTimeout = errors.New("watchdog timeout")
)
