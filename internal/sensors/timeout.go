// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

type readResult struct {
	reading vibration.Reading
	err     error
}

type timeoutReader struct {
	r        Reader
	d        time.Duration
	inflight atomic.Bool
}

// WithTimeout bounds every Read of r to d. A read that overruns reports
// vibration.ErrSensorFault and is left to finish in the background; until it
// does, further reads fail immediately instead of stacking up goroutines.
func WithTimeout(r Reader, d time.Duration) Reader {
	if d <= 0 {
		return r
	}
	return &timeoutReader{r: r, d: d}
}

func (t *timeoutReader) Read(ctx context.Context) (vibration.Reading, error) {
	if !t.inflight.CompareAndSwap(false, true) {
		return vibration.Reading{}, fmt.Errorf("%w: previous read still in flight", vibration.ErrSensorFault)
	}

	done := make(chan readResult, 1)
	go func() {
		rd, err := t.r.Read(ctx)
		t.inflight.Store(false)
		done <- readResult{reading: rd, err: err}
	}()

	timer := time.NewTimer(t.d)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.reading, res.err
	case <-timer.C:
		return vibration.Reading{}, fmt.Errorf("%w: read exceeded %v", vibration.ErrSensorFault, t.d)
	case <-ctx.Done():
		return vibration.Reading{}, ctx.Err()
	}
}
