// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry moves records out of the safety loop and fans them out to
// the dashboard, the serial export and the MQTT publisher.
package telemetry

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// DefaultRingCapacity is the number of records buffered between the safety
// loop and the hub.
const DefaultRingCapacity = 10

// words per encoded record
const recordWords = 17

type slot struct {
	// 2i+1 while record i is being written, 2i+2 once committed
	seq   atomic.Uint64
	words [recordWords]atomic.Uint64
}

// Ring is a fixed-capacity single-producer single-consumer queue. When full,
// Push overwrites the oldest unread record. Exactly one goroutine may call
// Push and exactly one may call Pop; Dropped and Len may be called from any.
type Ring struct {
	slots []slot

	head    atomic.Uint64 // next index to write, producer only
	_       [56]byte
	tail    atomic.Uint64 // next index to read, consumer only
	_       [56]byte
	dropped atomic.Uint64
}

// NewRing preallocates capacity slots. Capacities below 1 become 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]slot, capacity)}
}

// Cap returns the slot count.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Push never blocks and never fails.
func (r *Ring) Push(rec vibration.Record) {
	h := r.head.Load()
	s := &r.slots[h%uint64(len(r.slots))]

	s.seq.Store(2*h + 1)
	encode(&s.words, rec)
	s.seq.Store(2*h + 2)

	r.head.Store(h + 1)
}

// Pop returns the oldest unread record, or false when empty.
func (r *Ring) Pop() (vibration.Record, bool) {
	n := uint64(len(r.slots))
	for {
		t := r.tail.Load()
		h := r.head.Load()
		if t == h {
			return vibration.Record{}, false
		}
		if h-t > n {
			r.dropped.Add(h - t - n)
			t = h - n
		}

		s := &r.slots[t%n]
		want := 2*t + 2
		if s.seq.Load() != want {
			// lapped by the producer since head was read
			r.dropped.Add(1)
			r.tail.Store(t + 1)
			continue
		}
		rec := decode(&s.words)
		if s.seq.Load() != want {
			r.dropped.Add(1)
			r.tail.Store(t + 1)
			continue
		}
		r.tail.Store(t + 1)
		return rec, true
	}
}

// Dropped counts records overwritten before they were read.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Len is the number of unread records, at most Cap.
func (r *Ring) Len() int {
	n := r.head.Load() - r.tail.Load()
	if n > uint64(len(r.slots)) {
		return len(r.slots)
	}
	return int(n)
}

func encode(w *[recordWords]atomic.Uint64, rec vibration.Record) {
	f := math.Float64bits
	s := rec.Sample
	w[0].Store(rec.Seq)
	w[1].Store(s.Tick)
	w[2].Store(uint64(s.Time))
	w[3].Store(f(s.Raw.Accel.X))
	w[4].Store(f(s.Raw.Accel.Y))
	w[5].Store(f(s.Raw.Accel.Z))
	w[6].Store(f(s.Raw.Gyro.X))
	w[7].Store(f(s.Raw.Gyro.Y))
	w[8].Store(f(s.Raw.Gyro.Z))
	w[9].Store(f(s.Calibrated.Accel.X))
	w[10].Store(f(s.Calibrated.Accel.Y))
	w[11].Store(f(s.Calibrated.Accel.Z))
	w[12].Store(f(s.Calibrated.Gyro.X))
	w[13].Store(f(s.Calibrated.Gyro.Y))
	w[14].Store(f(s.Calibrated.Gyro.Z))
	w[15].Store(f(s.Magnitude))

	flags := uint64(rec.Severity)
	if rec.Fault {
		flags |= 1 << 8
	}
	w[16].Store(flags)
}

func decode(w *[recordWords]atomic.Uint64) vibration.Record {
	f := func(i int) float64 { return math.Float64frombits(w[i].Load()) }
	flags := w[16].Load()
	return vibration.Record{
		Seq: w[0].Load(),
		Sample: vibration.Sample{
			Tick: w[1].Load(),
			Time: time.Duration(w[2].Load()),
			Raw: vibration.Reading{
				Accel: vibration.Vec3{X: f(3), Y: f(4), Z: f(5)},
				Gyro:  vibration.Vec3{X: f(6), Y: f(7), Z: f(8)},
			},
			Calibrated: vibration.Reading{
				Accel: vibration.Vec3{X: f(9), Y: f(10), Z: f(11)},
				Gyro:  vibration.Vec3{X: f(12), Y: f(13), Z: f(14)},
			},
			Magnitude: f(15),
		},
		Severity: vibration.Severity(flags & 0xff),
		Fault:    flags&(1<<8) != 0,
	}
}
