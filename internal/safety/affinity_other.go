// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !linux

package safety

import "log"

func pinThread(cpu int) error {
	log.Printf("safety: cpu pinning not supported on this platform, ignoring SAFETY_CPU=%d", cpu)
	return nil
}
