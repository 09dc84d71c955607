// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// DefaultWatchdogTimeout is the countdown a healthy loop must beat.
const DefaultWatchdogTimeout = 1000 * time.Millisecond

// Watchdog is fed once per completed safety iteration.
type Watchdog interface {
	Feed() error
	Close() error
}

// SoftWatchdog is an in-process countdown for hosts without a watchdog
// device. It arms at creation; if Feed is not called within the timeout,
// onExpire receives an error wrapping vibration.ErrWatchdogTimeout. Expiry is
// final.
type SoftWatchdog struct {
	mu       sync.Mutex
	timeout  time.Duration
	timer    *time.Timer
	expired  bool
	closed   bool
	onExpire func(error)
}

var _ Watchdog = (*SoftWatchdog)(nil)

func NewSoftWatchdog(timeout time.Duration, onExpire func(error)) *SoftWatchdog {
	w := &SoftWatchdog{timeout: timeout, onExpire: onExpire}
	w.timer = time.AfterFunc(timeout, w.expire)
	return w
}

func (w *SoftWatchdog) expire() {
	w.mu.Lock()
	if w.closed || w.expired {
		w.mu.Unlock()
		return
	}
	w.expired = true
	w.mu.Unlock()

	if w.onExpire != nil {
		w.onExpire(fmt.Errorf("%w: not fed within %v", vibration.ErrWatchdogTimeout, w.timeout))
	}
}

func (w *SoftWatchdog) Feed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired {
		return vibration.ErrWatchdogTimeout
	}
	if w.closed {
		return fmt.Errorf("watchdog: closed")
	}
	w.timer.Reset(w.timeout)
	return nil
}

// Close disarms the countdown.
func (w *SoftWatchdog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.timer.Stop()
	return nil
}
