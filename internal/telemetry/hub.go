// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rokoter/LinuxCNC/internal/monitoring"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// DefaultDrainInterval is how often the hub empties the ring.
const DefaultDrainInterval = 20 * time.Millisecond

// Event is a change of effective severity seen in the record stream.
type Event struct {
	ID        uuid.UUID          `json:"id"`
	At        time.Time          `json:"at"`
	Seq       uint64             `json:"seq"`
	From      vibration.Severity `json:"from"`
	To        vibration.Severity `json:"to"`
	Magnitude float64            `json:"magnitude"`
}

// EStop reports whether the event enters an asserting severity from a
// releasing one.
func (e Event) EStop() bool {
	return e.To.Asserts() && !e.From.Asserts()
}

// Snapshot is the hub's view of the monitor.
type Snapshot struct {
	Latest    vibration.Record   `json:"latest"`
	HaveData  bool               `json:"have_data"`
	Severity  vibration.Severity `json:"severity"`
	Status    string             `json:"status"`
	EStop     bool               `json:"estop"`
	Peak      float64            `json:"peak"`
	RMS       float64            `json:"rms"`
	Received  uint64             `json:"received"`
	Faults    uint64             `json:"faults"`
	Dropped   uint64             `json:"dropped"`
	Gaps      uint64             `json:"gaps"`
	StartedAt time.Time          `json:"started_at"`
	Uptime    time.Duration      `json:"uptime"`
}

// HubOptions tunes NewHub. Zero values take the defaults.
type HubOptions struct {
	DrainInterval time.Duration
	RMSWindow     int
	EventHistory  int
}

// Hub is the only consumer of the ring.
type Hub struct {
	ring     *Ring
	interval time.Duration
	history  int
	now      func() time.Time

	mu        sync.RWMutex
	snap      Snapshot
	window    *Window
	events    []Event
	havePrev  bool
	prevSeq   uint64
	prevLevel vibration.Severity

	subMu     sync.Mutex
	subs      map[uuid.UUID]chan vibration.Record
	eventSubs map[uuid.UUID]chan Event
}

func NewHub(ring *Ring, opts HubOptions) *Hub {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.RMSWindow <= 0 {
		opts.RMSWindow = DefaultRMSWindow
	}
	if opts.EventHistory <= 0 {
		opts.EventHistory = 100
	}
	h := &Hub{
		ring:      ring,
		interval:  opts.DrainInterval,
		history:   opts.EventHistory,
		now:       time.Now,
		window:    NewWindow(opts.RMSWindow),
		subs:      make(map[uuid.UUID]chan vibration.Record),
		eventSubs: make(map[uuid.UUID]chan Event),
	}
	h.snap.StartedAt = h.now()
	h.snap.Status = vibration.Normal.Label()
	return h
}

// Run drains the ring until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Drain()
			return nil
		case <-ticker.C:
			h.Drain()
		}
	}
}

// Drain pops every available record and returns how many were processed.
func (h *Hub) Drain() int {
	n := 0
	for {
		rec, ok := h.ring.Pop()
		if !ok {
			break
		}
		h.process(rec)
		n++
	}
	h.mu.Lock()
	h.snap.Dropped = h.ring.Dropped()
	h.mu.Unlock()
	return n
}

func (h *Hub) process(rec vibration.Record) {
	var ev *Event

	h.mu.Lock()
	if h.havePrev && rec.Seq != h.prevSeq+1 {
		h.snap.Gaps += rec.Seq - h.prevSeq - 1
	}
	if h.havePrev && rec.Severity != h.prevLevel || !h.havePrev && rec.Severity != vibration.Normal {
		e := Event{
			ID:        uuid.New(),
			At:        h.now(),
			Seq:       rec.Seq,
			From:      h.prevLevel,
			To:        rec.Severity,
			Magnitude: rec.Sample.Magnitude,
		}
		h.events = append(h.events, e)
		if len(h.events) > h.history {
			h.events = h.events[len(h.events)-h.history:]
		}
		ev = &e
	}
	h.havePrev = true
	h.prevSeq = rec.Seq
	h.prevLevel = rec.Severity

	h.snap.Received++
	if rec.Fault {
		h.snap.Faults++
	} else {
		h.window.Add(rec.Sample.Magnitude)
	}
	h.snap.Latest = rec
	h.snap.HaveData = true
	h.snap.Severity = rec.Severity
	h.snap.Status = rec.Severity.Label()
	h.snap.EStop = rec.Severity.Asserts()
	h.snap.Peak = h.window.Peak()
	h.snap.RMS = h.window.RMS()
	h.mu.Unlock()

	if ev != nil {
		monitoring.Logf("telemetry: severity %s -> %s at %.3f g (seq %d)", ev.From, ev.To, ev.Magnitude, ev.Seq)
	}

	h.subMu.Lock()
	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	if ev != nil {
		for _, ch := range h.eventSubs {
			select {
			case ch <- *ev:
			default:
			}
		}
	}
	h.subMu.Unlock()
}

// Snapshot returns the current view.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.snap
	s.Uptime = h.now().Sub(s.StartedAt)
	return s
}

// Events returns up to limit most recent events, oldest first. limit <= 0
// returns all retained events.
func (h *Hub) Events(limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev := h.events
	if limit > 0 && len(ev) > limit {
		ev = ev[len(ev)-limit:]
	}
	return append([]Event(nil), ev...)
}

// ResetPeak clears the peak magnitude.
func (h *Hub) ResetPeak() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.window.ResetPeak()
	h.snap.Peak = 0
}

// Subscribe returns a channel receiving every drained record. A slow
// subscriber misses records rather than stalling the hub. Call the returned
// function to unsubscribe.
func (h *Hub) Subscribe(buf int) (<-chan vibration.Record, func()) {
	id := uuid.New()
	ch := make(chan vibration.Record, buf)
	h.subMu.Lock()
	h.subs[id] = ch
	h.subMu.Unlock()
	return ch, func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
	}
}

// SubscribeEvents is Subscribe for severity transitions.
func (h *Hub) SubscribeEvents(buf int) (<-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, buf)
	h.subMu.Lock()
	h.eventSubs[id] = ch
	h.subMu.Unlock()
	return ch, func() {
		h.subMu.Lock()
		delete(h.eventSubs, id)
		h.subMu.Unlock()
	}
}
