// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build linux

package safety

import (
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DeviceWatchdog is the kernel watchdog (e.g. /dev/watchdog backed by the
// SoC timer). An unfed device resets the board.
type DeviceWatchdog struct {
	f *os.File
}

var _ Watchdog = (*DeviceWatchdog)(nil)

// OpenDeviceWatchdog opens and arms the device with timeout rounded up to
// whole seconds.
func OpenDeviceWatchdog(path string, timeout time.Duration) (*DeviceWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("watchdog: open %s: %w", path, err)
	}

	secs := int((timeout + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	fd := int(f.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.WDIOC_SETTIMEOUT, secs); err != nil {
		f.Close()
		return nil, fmt.Errorf("watchdog: set timeout %ds: %w", secs, err)
	}
	if got, err := unix.IoctlGetInt(fd, unix.WDIOC_GETTIMEOUT); err == nil && got != secs {
		log.Printf("watchdog: driver adjusted timeout to %ds (requested %ds)", got, secs)
	}
	return &DeviceWatchdog{f: f}, nil
}

func (w *DeviceWatchdog) Feed() error {
	if err := unix.IoctlSetInt(int(w.f.Fd()), unix.WDIOC_KEEPALIVE, 0); err != nil {
		return fmt.Errorf("watchdog: keepalive: %w", err)
	}
	return nil
}

// Close writes the magic character so drivers without nowayout disarm.
func (w *DeviceWatchdog) Close() error {
	if _, err := w.f.Write([]byte("V")); err != nil {
		w.f.Close()
		return fmt.Errorf("watchdog: magic close: %w", err)
	}
	return w.f.Close()
}
