// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served on the shop network only
	},
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 10000
	wsWriteTimeout    = 2 * time.Second
)

type thresholdRequester interface {
	RequestThresholds(ts vibration.ThresholdSet) error
}

type eventStore interface {
	Record(ev telemetry.Event) error
	Recent(limit int) ([]telemetry.Event, error)
	RecordThresholds(ts vibration.ThresholdSet, source string) error
	WriteCSV(w io.Writer, limit int) error
}

// WebSocket message types
type WSMessage struct {
	Type       string           `json:"type"` // get_status, config, reset_peak
	Thresholds *thresholdUpdate `json:"thresholds,omitempty"`
}

type thresholdUpdate struct {
	Warning    float64  `json:"warning"`
	Critical   float64  `json:"critical"`
	Emergency  float64  `json:"emergency"`
	Hysteresis *float64 `json:"hysteresis,omitempty"` // keeps the current value when absent
}

type dataMessage struct {
	Type      string             `json:"type"`
	Seq       uint64             `json:"seq"`
	Timestamp int64              `json:"timestamp"` // ms since loop start
	Accel     vibration.Vec3     `json:"accel"`
	Gyro      vibration.Vec3     `json:"gyro"`
	Magnitude float64            `json:"magnitude"`
	Status    string             `json:"status"`
	Severity  vibration.Severity `json:"severity"`
	EStop     bool               `json:"estop"`
	Fault     bool               `json:"fault"`
}

type statusMessage struct {
	Type       string                 `json:"type"`
	Version    string                 `json:"version"`
	Uptime     float64                `json:"uptime"` // seconds
	Status     string                 `json:"status"`
	Severity   vibration.Severity     `json:"severity"`
	EStop      bool                   `json:"estop"`
	Peak       float64                `json:"peak"`
	RMS        float64                `json:"rms"`
	Received   uint64                 `json:"received"`
	Dropped    uint64                 `json:"dropped"`
	Faults     uint64                 `json:"faults"`
	Gaps       uint64                 `json:"gaps"`
	Thresholds vibration.ThresholdSet `json:"thresholds"`
}

type eventMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Seq       uint64    `json:"seq"`
	From      string    `json:"from"`
	Level     string    `json:"level"`
	Magnitude float64   `json:"magnitude"`
	EStop     bool      `json:"estop"`
	Reason    string    `json:"reason"`
}

type configMessage struct {
	Type       string                 `json:"type"`
	Thresholds vibration.ThresholdSet `json:"thresholds"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Dashboard serves the live web interface: REST endpoints, a websocket feed
// and static files.
type Dashboard struct {
	hub      *telemetry.Hub
	loop     thresholdRequester
	store    eventStore // nil when the event log is unavailable
	interval time.Duration
	version  string

	mu         sync.RWMutex
	thresholds vibration.ThresholdSet
}

func NewDashboard(hub *telemetry.Hub, loop thresholdRequester, store eventStore, initial vibration.ThresholdSet, updateHz int, version string) *Dashboard {
	if updateHz <= 0 {
		updateHz = 10
	}
	return &Dashboard{
		hub:        hub,
		loop:       loop,
		store:      store,
		interval:   time.Second / time.Duration(updateHz),
		version:    version,
		thresholds: initial,
	}
}

// Thresholds returns the last accepted threshold set.
func (d *Dashboard) Thresholds() vibration.ThresholdSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.thresholds
}

// Handler routes the API, the websocket and static files from webRoot.
func (d *Dashboard) Handler(webRoot string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", d.handleStatus)
	mux.HandleFunc("/api/events", d.handleEvents)
	mux.HandleFunc("/api/download_log", d.handleDownloadLog)
	mux.HandleFunc("/ws", d.handleWS)
	if webRoot != "" {
		mux.Handle("/", http.FileServer(http.Dir(webRoot)))
	}
	return mux
}

// RunWeb serves h on port until ctx is done.
func RunWeb(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("web: server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (d *Dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.statusMessage())
}

func (d *Dashboard) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxEventLimit {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var events []telemetry.Event
	if d.store != nil {
		var err error
		if events, err = d.store.Recent(limit); err != nil {
			log.Printf("web: %v", err)
			http.Error(w, "event log unavailable", http.StatusInternalServerError)
			return
		}
	} else {
		// hub history is oldest first
		hist := d.hub.Events(limit)
		for i := len(hist) - 1; i >= 0; i-- {
			events = append(events, hist[i])
		}
	}

	out := make([]eventMessage, 0, len(events))
	for _, ev := range events {
		out = append(out, newEventMessage(ev))
	}
	writeJSON(w, out)
}

func (d *Dashboard) handleDownloadLog(w http.ResponseWriter, r *http.Request) {
	if d.store == nil {
		http.Error(w, "event log disabled", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="vibration_events.csv"`)
	if err := d.store.WriteCSV(w, maxEventLimit); err != nil {
		log.Printf("web: download_log: %v", err)
	}
}

// wsClient serializes writes; gorilla connections allow one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (d *Dashboard) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go d.pushUpdates(ctx, client)

	if err := client.send(configMessage{Type: "config", Thresholds: d.Thresholds()}); err != nil {
		return
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}

		reply, err := d.handleMessage(msg)
		if err != nil {
			reply = errorMessage{Type: "error", Message: err.Error()}
		}
		if err := client.send(reply); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}
}

// pushUpdates streams the latest record at the dashboard rate and every
// severity transition as it happens.
func (d *Dashboard) pushUpdates(ctx context.Context, client *wsClient) {
	events, unsubscribe := d.hub.SubscribeEvents(16)
	defer unsubscribe()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var (
		lastSeq uint64
		sent    bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := client.send(newEventMessage(ev)); err != nil {
				return
			}
		case <-ticker.C:
			snap := d.hub.Snapshot()
			if !snap.HaveData || (sent && snap.Latest.Seq == lastSeq) {
				continue
			}
			if err := client.send(newDataMessage(snap.Latest)); err != nil {
				return
			}
			lastSeq, sent = snap.Latest.Seq, true
		}
	}
}

func (d *Dashboard) handleMessage(msg WSMessage) (interface{}, error) {
	switch msg.Type {
	case "get_status":
		return d.statusMessage(), nil

	case "config":
		if msg.Thresholds == nil {
			return nil, errors.New("config message without thresholds")
		}
		ts, err := d.applyThresholds(*msg.Thresholds, "websocket")
		if err != nil {
			return nil, err
		}
		return configMessage{Type: "config", Thresholds: ts}, nil

	case "reset_peak":
		d.hub.ResetPeak()
		log.Printf("web: peak reset")
		return d.statusMessage(), nil
	}
	return nil, fmt.Errorf("unknown message type %q", msg.Type)
}

// applyThresholds validates the update and hands it to the safety loop. A
// rejected set leaves the current one in place.
func (d *Dashboard) applyThresholds(u thresholdUpdate, source string) (vibration.ThresholdSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := vibration.ThresholdSet{
		Warning:    u.Warning,
		Critical:   u.Critical,
		Emergency:  u.Emergency,
		Hysteresis: d.thresholds.Hysteresis,
	}
	if u.Hysteresis != nil {
		ts.Hysteresis = *u.Hysteresis
	}
	if err := d.loop.RequestThresholds(ts); err != nil {
		return d.thresholds, err
	}
	d.thresholds = ts
	log.Printf("web: thresholds set to %.2f/%.2f/%.2f g (hysteresis %.2f) by %s",
		ts.Warning, ts.Critical, ts.Emergency, ts.Hysteresis, source)

	if d.store != nil {
		if err := d.store.RecordThresholds(ts, source); err != nil {
			log.Printf("web: %v", err)
		}
	}
	return ts, nil
}

func (d *Dashboard) statusMessage() statusMessage {
	return newStatusMessage(d.hub.Snapshot(), d.version, d.Thresholds())
}

func newStatusMessage(snap telemetry.Snapshot, version string, ts vibration.ThresholdSet) statusMessage {
	return statusMessage{
		Type:       "status",
		Version:    version,
		Uptime:     snap.Uptime.Seconds(),
		Status:     snap.Status,
		Severity:   snap.Severity,
		EStop:      snap.EStop,
		Peak:       snap.Peak,
		RMS:        snap.RMS,
		Received:   snap.Received,
		Dropped:    snap.Dropped,
		Faults:     snap.Faults,
		Gaps:       snap.Gaps,
		Thresholds: ts,
	}
}

func newDataMessage(rec vibration.Record) dataMessage {
	return dataMessage{
		Type:      "data",
		Seq:       rec.Seq,
		Timestamp: rec.Sample.Time.Milliseconds(),
		Accel:     rec.Sample.Calibrated.Accel,
		Gyro:      rec.Sample.Calibrated.Gyro,
		Magnitude: rec.Sample.Magnitude,
		Status:    rec.Severity.Label(),
		Severity:  rec.Severity,
		EStop:     rec.Severity.Asserts(),
		Fault:     rec.Fault,
	}
}

func newEventMessage(ev telemetry.Event) eventMessage {
	return eventMessage{
		Type:      "event",
		ID:        ev.ID.String(),
		At:        ev.At,
		Seq:       ev.Seq,
		From:      ev.From.Label(),
		Level:     ev.To.Label(),
		Magnitude: ev.Magnitude,
		EStop:     ev.EStop(),
		Reason:    eventReason(ev),
	}
}

func eventReason(ev telemetry.Event) string {
	switch {
	case ev.To == vibration.SensorFault:
		return "sensor fault"
	case ev.EStop():
		return fmt.Sprintf("vibration %.2f g exceeded the %s threshold", ev.Magnitude, ev.To)
	case ev.From.Asserts() && !ev.To.Asserts():
		return fmt.Sprintf("recovered to %s at %.2f g", ev.To, ev.Magnitude)
	}
	return fmt.Sprintf("%s -> %s at %.2f g", ev.From, ev.To, ev.Magnitude)
}
