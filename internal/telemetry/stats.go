// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultRMSWindow is the number of samples in the rolling RMS.
const DefaultRMSWindow = 100

// Window keeps the last n magnitudes and the peak since the last reset.
// Not safe for concurrent use.
type Window struct {
	buf  []float64
	next int
	full bool
	peak float64
}

func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{buf: make([]float64, n)}
}

func (w *Window) Add(v float64) {
	w.buf[w.next] = v
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	if v > w.peak {
		w.peak = v
	}
}

func (w *Window) values() []float64 {
	if w.full {
		return w.buf
	}
	return w.buf[:w.next]
}

// RMS is the root mean square over the window, 0 when empty.
func (w *Window) RMS() float64 {
	v := w.values()
	if len(v) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(v, v) / float64(len(v)))
}

// Max is the largest value currently in the window.
func (w *Window) Max() float64 {
	v := w.values()
	if len(v) == 0 {
		return 0
	}
	return floats.Max(v)
}

func (w *Window) Peak() float64 {
	return w.peak
}

func (w *Window) ResetPeak() {
	w.peak = 0
}

func (w *Window) Len() int {
	return len(w.values())
}
