// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !linux

package safety

import (
	"errors"
	"time"
)

// DeviceWatchdog is only available on Linux.
type DeviceWatchdog struct{}

func OpenDeviceWatchdog(path string, timeout time.Duration) (*DeviceWatchdog, error) {
	return nil, errors.New("watchdog: device watchdog requires linux")
}

func (*DeviceWatchdog) Feed() error  { return errors.New("watchdog: unsupported") }
func (*DeviceWatchdog) Close() error { return nil }
