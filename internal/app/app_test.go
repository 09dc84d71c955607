package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokoter/LinuxCNC/internal/monitoring"
	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

func init() {
	monitoring.SetLogger(nil)
}

var testThresholds = vibration.ThresholdSet{Warning: 2.0, Critical: 4.0, Emergency: 6.0, Hysteresis: 0.2}

func record(seq uint64, mag float64, sev vibration.Severity) vibration.Record {
	return vibration.Record{
		Seq: seq,
		Sample: vibration.Sample{
			Tick:       seq,
			Time:       time.Duration(seq) * 10 * time.Millisecond,
			Calibrated: vibration.Reading{Accel: vibration.Vec3{Z: mag}, Gyro: vibration.Vec3{X: 0.5}},
			Magnitude:  mag,
		},
		Severity: sev,
	}
}

// newTestHub returns a hub that has already drained recs.
func newTestHub(recs ...vibration.Record) (*telemetry.Hub, *telemetry.Ring) {
	ring := telemetry.NewRing(64)
	hub := telemetry.NewHub(ring, telemetry.HubOptions{})
	for _, r := range recs {
		ring.Push(r)
	}
	hub.Drain()
	return hub, ring
}

type fakeLoop struct {
	mu  sync.Mutex
	got []vibration.ThresholdSet
}

func (f *fakeLoop) RequestThresholds(ts vibration.ThresholdSet) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ts)
	return nil
}

func (f *fakeLoop) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakeStore struct {
	mu         sync.Mutex
	events     []telemetry.Event
	thresholds []string
}

func (s *fakeStore) Record(ev telemetry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) Recent(limit int) ([]telemetry.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *fakeStore) RecordThresholds(ts vibration.ThresholdSet, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = append(s.thresholds, fmt.Sprintf("%.1f/%.1f/%.1f/%.1f %s", ts.Warning, ts.Critical, ts.Emergency, ts.Hysteresis, source))
	return nil
}

func (s *fakeStore) WriteCSV(w io.Writer, limit int) error {
	_, err := io.WriteString(w, "id,at,seq,from,to,magnitude\n")
	return err
}

func ptr(v float64) *float64 { return &v }

func TestDashboardConfigMessage(t *testing.T) {
	tests := []struct {
		name    string
		update  *thresholdUpdate
		want    vibration.ThresholdSet
		wantErr bool
	}{
		{
			name:   "hysteresis omitted keeps current",
			update: &thresholdUpdate{Warning: 1.5, Critical: 3.0, Emergency: 5.0},
			want:   vibration.ThresholdSet{Warning: 1.5, Critical: 3.0, Emergency: 5.0, Hysteresis: 0.2},
		},
		{
			name:   "explicit hysteresis",
			update: &thresholdUpdate{Warning: 1.5, Critical: 3.0, Emergency: 5.0, Hysteresis: ptr(0.5)},
			want:   vibration.ThresholdSet{Warning: 1.5, Critical: 3.0, Emergency: 5.0, Hysteresis: 0.5},
		},
		{
			name:    "out of order is rejected",
			update:  &thresholdUpdate{Warning: 4.0, Critical: 3.0, Emergency: 5.0},
			want:    testThresholds,
			wantErr: true,
		},
		{
			name:    "hysteresis wider than a band is rejected",
			update:  &thresholdUpdate{Warning: 1.0, Critical: 1.5, Emergency: 5.0, Hysteresis: ptr(0.6)},
			want:    testThresholds,
			wantErr: true,
		},
		{
			name:    "missing thresholds",
			want:    testThresholds,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, _ := newTestHub()
			loop, store := &fakeLoop{}, &fakeStore{}
			d := NewDashboard(hub, loop, store, testThresholds, 10, "test")

			reply, err := d.handleMessage(WSMessage{Type: "config", Thresholds: tt.update})
			assert.Equal(t, tt.want, d.Thresholds())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, loop.got)
				assert.Empty(t, store.thresholds)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, configMessage{Type: "config", Thresholds: tt.want}, reply)
			assert.Equal(t, []vibration.ThresholdSet{tt.want}, loop.got)
			assert.Len(t, store.thresholds, 1)
			assert.Contains(t, store.thresholds[0], "websocket")
		})
	}
}

func TestDashboardResetPeakAndStatus(t *testing.T) {
	hub, _ := newTestHub(record(1, 1.0, vibration.Normal), record(2, 3.0, vibration.Warning), record(3, 1.0, vibration.Warning))
	d := NewDashboard(hub, &fakeLoop{}, nil, testThresholds, 10, "v1")

	reply, err := d.handleMessage(WSMessage{Type: "get_status"})
	require.NoError(t, err)
	st := reply.(statusMessage)
	assert.Equal(t, "status", st.Type)
	assert.Equal(t, "v1", st.Version)
	assert.Equal(t, "WARNING", st.Status)
	assert.Equal(t, 3.0, st.Peak)
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, testThresholds, st.Thresholds)

	reply, err = d.handleMessage(WSMessage{Type: "reset_peak"})
	require.NoError(t, err)
	assert.Zero(t, reply.(statusMessage).Peak)

	_, err = d.handleMessage(WSMessage{Type: "reboot"})
	assert.Error(t, err)
}

func TestDashboardHTTP(t *testing.T) {
	hub, _ := newTestHub(
		record(1, 1.0, vibration.Normal),
		record(2, 2.5, vibration.Warning),
		record(3, 6.5, vibration.Emergency),
	)

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(NewDashboard(hub, &fakeLoop{}, nil, testThresholds, 10, "v1").Handler(""))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var st statusMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		assert.Equal(t, "EMERGENCY", st.Status)
		assert.True(t, st.EStop)
		assert.Equal(t, vibration.Emergency, st.Severity)
	})

	t.Run("events from hub history, newest first", func(t *testing.T) {
		srv := httptest.NewServer(NewDashboard(hub, &fakeLoop{}, nil, testThresholds, 10, "v1").Handler(""))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/events?limit=10")
		require.NoError(t, err)
		defer resp.Body.Close()

		var evs []eventMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&evs))
		require.Len(t, evs, 2)
		assert.Equal(t, uint64(3), evs[0].Seq)
		assert.True(t, evs[0].EStop)
		assert.Equal(t, "WARNING", evs[0].From)
		assert.Equal(t, "EMERGENCY", evs[0].Level)
		assert.Equal(t, uint64(2), evs[1].Seq)
		assert.False(t, evs[1].EStop)
	})

	t.Run("events from the store", func(t *testing.T) {
		store := &fakeStore{}
		for _, ev := range hub.Events(0) {
			store.Record(ev)
		}
		srv := httptest.NewServer(NewDashboard(hub, &fakeLoop{}, store, testThresholds, 10, "v1").Handler(""))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/events?limit=1")
		require.NoError(t, err)
		defer resp.Body.Close()

		var evs []eventMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&evs))
		require.Len(t, evs, 1)
		assert.Equal(t, uint64(3), evs[0].Seq)
	})

	t.Run("bad limit", func(t *testing.T) {
		srv := httptest.NewServer(NewDashboard(hub, &fakeLoop{}, nil, testThresholds, 10, "v1").Handler(""))
		defer srv.Close()

		for _, q := range []string{"abc", "0", "-3", "10001"} {
			resp, err := http.Get(srv.URL + "/api/events?limit=" + q)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		}
	})

	t.Run("download log", func(t *testing.T) {
		srv := httptest.NewServer(NewDashboard(hub, &fakeLoop{}, nil, testThresholds, 10, "v1").Handler(""))
		resp, err := http.Get(srv.URL + "/api/download_log")
		require.NoError(t, err)
		resp.Body.Close()
		srv.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		srv = httptest.NewServer(NewDashboard(hub, &fakeLoop{}, &fakeStore{}, testThresholds, 10, "v1").Handler(""))
		defer srv.Close()
		resp, err = http.Get(srv.URL + "/api/download_log")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(string(body), "id,at,seq"))
	})
}

func TestDashboardWebSocket(t *testing.T) {
	hub, _ := newTestHub(record(1, 1.0, vibration.Normal))
	loop := &fakeLoop{}
	srv := httptest.NewServer(NewDashboard(hub, loop, nil, testThresholds, 50, "v1").Handler(""))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// next reads what the server sent, skipping streamed data
	next := func(want string) map[string]interface{} {
		t.Helper()
		for {
			var m map[string]interface{}
			require.NoError(t, conn.ReadJSON(&m))
			if m["type"] == want {
				return m
			}
			require.Equal(t, "data", m["type"], "unexpected message %v", m)
		}
	}

	first := next("config")
	assert.Equal(t, 2.0, first["thresholds"].(map[string]interface{})["warning"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "config", Thresholds: &thresholdUpdate{Warning: 1, Critical: 2, Emergency: 3}}))
	cfgReply := next("config")
	assert.Equal(t, 1.0, cfgReply["thresholds"].(map[string]interface{})["warning"])
	assert.Equal(t, 1, loop.count())

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "config", Thresholds: &thresholdUpdate{Warning: 3, Critical: 2, Emergency: 1}}))
	errReply := next("error")
	assert.NotEmpty(t, errReply["message"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "get_status"}))
	st := next("status")
	assert.Equal(t, "OK", st["status"])
}

func TestEventReason(t *testing.T) {
	tests := []struct {
		from, to vibration.Severity
		want     string
	}{
		{vibration.Normal, vibration.SensorFault, "sensor fault"},
		{vibration.Critical, vibration.Emergency, "vibration 6.50 g exceeded the emergency threshold"},
		{vibration.Emergency, vibration.Critical, "recovered to critical at 6.50 g"},
		{vibration.Normal, vibration.Warning, "normal -> warning at 6.50 g"},
	}
	for _, tt := range tests {
		ev := telemetry.Event{From: tt.from, To: tt.to, Magnitude: 6.5}
		assert.Equal(t, tt.want, eventReason(ev))
	}
}

func TestSerialExporterLines(t *testing.T) {
	var buf bytes.Buffer
	hub, _ := newTestHub()
	e := NewSerialExporter(&buf, hub, "1.2.3", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	for _, rec := range []vibration.Record{
		record(1, 1.0, vibration.Normal),
		record(2, 6.5, vibration.Emergency),
		record(3, 6.6, vibration.Emergency),
		record(4, 1.0, vibration.Normal),
		record(5, 0.0, vibration.SensorFault),
	} {
		require.NoError(t, e.writeRecord(rec))
	}

	want := []string{
		"VIB:BOOT,1.2.3",
		"VIB:HEADER,timestamp,ax,ay,az,gx,gy,gz,mag,status",
		"VIB:DATA,10,0.000,0.000,1.000,0.500,0.000,0.000,1.000,OK",
		"VIB:DATA,20,0.000,0.000,6.500,0.500,0.000,0.000,6.500,ESTOP",
		"VIB:ESTOP,20,6.500,ESTOP",
		"VIB:DATA,30,0.000,0.000,6.600,0.500,0.000,0.000,6.600,ESTOP",
		"VIB:DATA,40,0.000,0.000,1.000,0.500,0.000,0.000,1.000,OK",
		"VIB:DATA,50,0.000,0.000,0.000,0.500,0.000,0.000,0.000,FAULT",
		"VIB:ESTOP,50,0.000,FAULT",
	}
	got := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("serial lines mismatch (-want +got):\n%s", diff)
	}
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakePublisher struct {
	mu  sync.Mutex
	msg []published
	err error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msg = append(f.msg, published{Topic: topic, QoS: qos, Retained: retained, Payload: payload.([]byte)})
	return newFakeToken(f.err)
}

func (f *fakePublisher) on(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msg {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func TestTelemetryPublisher(t *testing.T) {
	hub, ring := newTestHub(record(1, 1.0, vibration.Normal))
	client := &fakePublisher{}
	topics := MQTTTopics{Data: "vib/data", Event: "vib/event", Status: "vib/status"}
	p := NewTelemetryPublisher(client, hub, topics, func() vibration.ThresholdSet { return testThresholds }, "v1")
	p.dataEvery = 5 * time.Millisecond
	p.statusEvery = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(client.on(topics.Status)) > 0 }, 2*time.Second, 5*time.Millisecond)

	ring.Push(record(2, 6.5, vibration.Emergency))
	hub.Drain()

	require.Eventually(t, func() bool { return len(client.on(topics.Event)) > 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(client.on(topics.Data)) > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	status := client.on(topics.Status)[0]
	assert.True(t, status.Retained)
	var st statusMessage
	require.NoError(t, json.Unmarshal(status.Payload, &st))
	assert.Equal(t, testThresholds, st.Thresholds)

	ev := client.on(topics.Event)[0]
	assert.Equal(t, byte(1), ev.QoS)
	var em eventMessage
	require.NoError(t, json.Unmarshal(ev.Payload, &em))
	assert.True(t, em.EStop)
	assert.Equal(t, "EMERGENCY", em.Level)

	// data is only sent when the sequence moves
	data := client.on(topics.Data)
	require.NotEmpty(t, data)
	assert.LessOrEqual(t, len(data), 2)
	for _, d := range data {
		assert.Equal(t, byte(0), d.QoS)
	}
}

func TestTelemetryPublisherErrorsAreLogged(t *testing.T) {
	hub, _ := newTestHub()
	client := &fakePublisher{err: errors.New("not connected")}
	p := NewTelemetryPublisher(client, hub, MQTTTopics{Status: "s"}, vibration.DefaultThresholds, "v1")
	p.publish("s", 0, true, statusMessage{Type: "status"})
	assert.Len(t, client.on("s"), 1)
}

func TestHostMonitorHandleLine(t *testing.T) {
	var logBuf bytes.Buffer
	relay := &fakePublisher{}
	m := NewHostMonitor(&logBuf, relay, "cnc/estop", "", 10)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	for _, line := range []string{
		"bootloader v2",
		"VIB:BOOT,1.0.0",
		"VIB:HEADER,timestamp,ax,ay,az,gx,gy,gz,mag,status",
		"VIB:DATA,10,0.000,0.000,1.000,0.000,0.000,0.000,1.000,OK",
		"VIB:DATA,20,0.000,0.000,6.500,0.000,0.000,0.000,6.500,ESTOP",
		"VIB:ESTOP,20,6.500,ESTOP",
		"VIB:DATA,30,0.000,0.000,6.700,0.000,0.000,0.000,6.700,ESTOP",
		"VIB:DATA,40,0.000,0.000,1.200,0.000,0.000,0.000,1.200,OK",
		"VIB:ESTOP,50,7.100,ESTOP",
		"VIB:DATA,broken",
		"VIB:NOPE,1",
	} {
		m.HandleLine(line)
	}
	require.NoError(t, m.Flush())

	st := m.Stats()
	assert.Equal(t, uint64(11), st.Lines)
	assert.Equal(t, uint64(4), st.Data)
	assert.Equal(t, uint64(2), st.ParseErrors)
	assert.Equal(t, uint64(2), st.EStops)
	assert.Equal(t, "1.0.0", st.Firmware)
	assert.Equal(t, vibration.Normal, st.Status)
	assert.Equal(t, 1.2, st.Last)
	assert.Equal(t, 6.7, st.Peak)

	// one relay per E-stop entry
	relayed := relay.on("cnc/estop")
	require.Len(t, relayed, 2)
	var trig estopTrigger
	require.NoError(t, json.Unmarshal(relayed[0].Payload, &trig))
	assert.Equal(t, 6.5, trig.Magnitude)
	assert.Equal(t, "vibration", trig.Source)
	assert.Equal(t, byte(1), relayed[0].QoS)
	require.NoError(t, json.Unmarshal(relayed[1].Payload, &trig))
	assert.Equal(t, 7.1, trig.Magnitude)

	rows := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	require.Len(t, rows, 5)
	assert.Equal(t, "host_time,timestamp_ms,ax,ay,az,gx,gy,gz,magnitude,status", rows[0])
	assert.Equal(t, "2026-03-01T12:00:00Z,20,0.000,0.000,6.500,0.000,0.000,0.000,6.500,ESTOP", rows[2])

	m.ResetPeak()
	assert.Zero(t, m.Stats().Peak)
}

func lastState(t *testing.T, relay *fakePublisher, topic string) hostState {
	t.Helper()
	msgs := relay.on(topic)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.True(t, last.Retained)
	var st hostState
	require.NoError(t, json.Unmarshal(last.Payload, &st))
	return st
}

func TestHostMonitorPublishesState(t *testing.T) {
	relay := &fakePublisher{}
	m := NewHostMonitor(nil, relay, "cnc/estop", "cnc/host", 10)

	m.SetConnected(true)
	st := lastState(t, relay, "cnc/host")
	assert.True(t, st.Connected)
	assert.Equal(t, "OK", st.Status)

	m.HandleLine("VIB:BOOT,1.0.0")
	m.HandleLine("VIB:DATA,10,0.000,0.000,3.000,0.000,0.000,0.000,3.000,WARNING")
	m.HandleLine("VIB:DATA,20,0.000,0.000,6.500,0.000,0.000,0.000,6.500,ESTOP")
	m.HandleLine("VIB:DATA,30,0.000,0.000,1.000,0.000,0.000,0.000,1.000,OK")
	m.PublishState()

	st = lastState(t, relay, "cnc/host")
	assert.True(t, st.Connected)
	assert.Equal(t, 1.0, st.Current)
	assert.Equal(t, 6.5, st.Peak)
	assert.InDelta(t, 4.1733, st.RMS, 1e-3)
	assert.Equal(t, "OK", st.Status)
	assert.False(t, st.EStop)
	assert.Equal(t, "1.0.0", st.Firmware)

	// a lost port is published at once
	m.SetConnected(false)
	st = lastState(t, relay, "cnc/host")
	assert.False(t, st.Connected)
	assert.Equal(t, 1.0, st.Current)
}

func TestHostMonitorResetPeakFromController(t *testing.T) {
	relay := &fakePublisher{}
	m := NewHostMonitor(nil, relay, "cnc/estop", "cnc/host", 10)
	m.HandleLine("VIB:DATA,10,0.000,0.000,5.000,0.000,0.000,0.000,5.000,CRITICAL")
	m.HandleLine("VIB:DATA,20,0.000,0.000,1.000,0.000,0.000,0.000,1.000,OK")
	require.Equal(t, 5.0, m.Stats().Peak)

	m.resetPeakHandler(nil, nil)

	assert.Zero(t, m.Stats().Peak)
	st := lastState(t, relay, "cnc/host")
	assert.Zero(t, st.Peak)
	assert.Equal(t, 1.0, st.Current)
}

func TestHostMonitorStateWithoutBroker(t *testing.T) {
	m := NewHostMonitor(nil, nil, "", "cnc/host", 10)
	m.SetConnected(true)
	m.ResetPeak()
	assert.True(t, m.state().Connected)
}

func TestHostMonitorConsume(t *testing.T) {
	m := NewHostMonitor(nil, nil, "", "", 10)
	in := io.NopCloser(strings.NewReader("VIB:BOOT,2.0\nVIB:DATA,10,0,0,1,0,0,0,1,OK\n"))

	err := m.consume(context.Background(), in)
	assert.ErrorIs(t, err, io.EOF)
	st := m.Stats()
	assert.Equal(t, uint64(2), st.Lines)
	assert.Equal(t, "2.0", st.Firmware)
}

func TestFindPort(t *testing.T) {
	name, err := findPort("/dev/ttyACM3")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM3", name)
}

func TestConsoleFormatters(t *testing.T) {
	data, err := json.Marshal(newDataMessage(record(4, 2.5, vibration.Warning)))
	require.NoError(t, err)
	line, err := formatDataPayload(data)
	require.NoError(t, err)
	assert.Equal(t, "[DATA]  t=      40ms  ax=  0.000 ay=  0.000 az=  2.500  |a|= 2.500 g  WARNING", line)

	ev := telemetry.Event{ID: uuid.New(), Seq: 9, From: vibration.Critical, To: vibration.Emergency, Magnitude: 6.25}
	data, err = json.Marshal(newEventMessage(ev))
	require.NoError(t, err)
	line, err = formatEventPayload(data)
	require.NoError(t, err)
	assert.Equal(t, "[ESTOP] CRITICAL -> EMERGENCY  6.250 g  vibration 6.25 g exceeded the emergency threshold", line)

	data, err = json.Marshal(statusMessage{Type: "status", Status: "OK", Uptime: 12, Peak: 1.5, RMS: 1.0, Received: 100, Dropped: 2, Faults: 1})
	require.NoError(t, err)
	line, err = formatStatusPayload(data)
	require.NoError(t, err)
	assert.Equal(t, "[STAT]  OK  up=12s  peak=1.500 g  rms=1.000 g  rx=100 dropped=2 faults=1", line)

	at := time.Date(2026, 3, 1, 8, 30, 15, 250e6, time.UTC)
	data, err = json.Marshal(estopTrigger{At: at, Magnitude: 7.25})
	require.NoError(t, err)
	line, err = formatTriggerPayload(data)
	require.NoError(t, err)
	assert.Equal(t, "[TRIG]  E-stop relayed by host at 08:30:15.250 (7.250 g)", line)

	data, err = json.Marshal(hostState{Connected: false, Status: "ESTOP", Current: 6.5, Peak: 7, RMS: 2})
	require.NoError(t, err)
	line, err = formatHostStatePayload(data)
	require.NoError(t, err)
	assert.Equal(t, "[HOST]  link=DOWN  ESTOP  cur=6.500 g  peak=7.000 g  rms=2.000 g", line)

	_, err = formatDataPayload([]byte("{"))
	assert.Error(t, err)
}
