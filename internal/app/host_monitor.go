// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.bug.st/serial"

	"github.com/rokoter/LinuxCNC/internal/config"
	"github.com/rokoter/LinuxCNC/internal/serialproto"
	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

const (
	hostLogFlushRows   = 100
	hostStatsInterval  = 10 * time.Second
	hostReconnectDelay = 2 * time.Second
	hostStateInterval  = 250 * time.Millisecond
)

// HostStats summarizes the stream seen by the host monitor.
type HostStats struct {
	Lines       uint64             `json:"lines"`
	Data        uint64             `json:"data"`
	EStops      uint64             `json:"estops"`
	ParseErrors uint64             `json:"parse_errors"`
	Reconnects  uint64             `json:"reconnects"`
	Firmware    string             `json:"firmware"`
	Status      vibration.Severity `json:"status"`
	Last        float64            `json:"last"`
	Peak        float64            `json:"peak"`
	RMS         float64            `json:"rms"`
}

// estopTrigger is the payload relayed to the machine controller.
type estopTrigger struct {
	At        time.Time `json:"at"`
	Source    string    `json:"source"`
	Magnitude float64   `json:"magnitude"`
	Line      string    `json:"line"`
}

// hostState is what the machine controller reads back from the host monitor,
// published retained so a controller that subscribes late sees it at once.
type hostState struct {
	At        time.Time `json:"at"`
	Connected bool      `json:"connected"`
	Current   float64   `json:"current"`
	Peak      float64   `json:"peak"`
	RMS       float64   `json:"rms"`
	Status    string    `json:"status"`
	EStop     bool      `json:"estop"`
	Firmware  string    `json:"firmware"`
}

// HostMonitor consumes the VIB:* stream of a monitor connected over USB
// serial: it logs data rows to CSV, tracks peak and RMS and relays E-stops.
type HostMonitor struct {
	mu          sync.Mutex
	stats       HostStats
	window      *telemetry.Window
	csv         *csv.Writer
	rows        int
	relay       mqttPublisher // nil disables relaying
	relayTopic  string
	stateTopic  string
	estopActive bool
	connected   bool
	now         func() time.Time
}

func NewHostMonitor(logW io.Writer, relay mqttPublisher, relayTopic, stateTopic string, rmsWindow int) *HostMonitor {
	m := &HostMonitor{
		window:     telemetry.NewWindow(rmsWindow),
		relay:      relay,
		relayTopic: relayTopic,
		stateTopic: stateTopic,
		now:        time.Now,
	}
	if logW != nil {
		m.csv = csv.NewWriter(logW)
		m.csv.Write([]string{"host_time", "timestamp_ms", "ax", "ay", "az", "gx", "gy", "gz", "magnitude", "status"})
	}
	return m
}

// HandleLine processes one line from the serial stream. Lines that are not
// part of the protocol are ignored; malformed protocol lines are counted.
func (m *HostMonitor) HandleLine(line string) {
	msg, err := serialproto.Parse(line)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Lines++

	switch {
	case errors.Is(err, serialproto.ErrNotProtocol):
		return
	case err != nil:
		m.stats.ParseErrors++
		log.Printf("host monitor: %v", err)
		return
	}

	switch msg.Kind {
	case serialproto.KindBoot:
		if len(msg.Fields) > 0 {
			m.stats.Firmware = msg.Fields[0]
		}
		log.Printf("host monitor: device booted, firmware %s", m.stats.Firmware)
	case serialproto.KindData:
		m.handleData(msg.Data)
	case serialproto.KindEStop:
		log.Printf("host monitor: EMERGENCY STOP reported: %s", line)
	}

	if msg.EStop() {
		if !m.estopActive {
			m.estopActive = true
			m.stats.EStops++
			m.relayEStop(msg, line)
		}
	} else if msg.Kind == serialproto.KindData {
		m.estopActive = false
	}
}

func (m *HostMonitor) handleData(d *serialproto.Data) {
	m.stats.Data++
	m.stats.Status = d.Status
	m.stats.Last = d.Magnitude
	m.window.Add(d.Magnitude)

	if m.csv == nil {
		return
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	m.csv.Write([]string{
		m.now().Format(time.RFC3339Nano),
		strconv.FormatInt(d.TimestampMS, 10),
		ff(d.Accel.X), ff(d.Accel.Y), ff(d.Accel.Z),
		ff(d.Gyro.X), ff(d.Gyro.Y), ff(d.Gyro.Z),
		ff(d.Magnitude),
		serialproto.StatusToken(d.Status),
	})
	m.rows++
	if m.rows%hostLogFlushRows == 0 {
		m.csv.Flush()
	}
}

func (m *HostMonitor) relayEStop(msg serialproto.Message, line string) {
	if m.relay == nil {
		return
	}
	trig := estopTrigger{At: m.now(), Source: "vibration", Line: line}
	if msg.Data != nil {
		trig.Magnitude = msg.Data.Magnitude
	} else if len(msg.Fields) > 1 {
		trig.Magnitude, _ = strconv.ParseFloat(msg.Fields[1], 64)
	}
	payload, err := json.Marshal(trig)
	if err != nil {
		log.Printf("host monitor: json marshal error: %v", err)
		return
	}
	token := m.relay.Publish(m.relayTopic, 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		log.Printf("host monitor: E-stop relay to %s timed out", m.relayTopic)
	} else if err := token.Error(); err != nil {
		log.Printf("host monitor: E-stop relay error: %v", err)
	}
}

// ResetPeak clears the peak magnitude.
func (m *HostMonitor) ResetPeak() {
	m.mu.Lock()
	m.window.ResetPeak()
	m.mu.Unlock()
	log.Println("host monitor: peak reset")
	m.PublishState()
}

// resetPeakHandler serves the controller's reset-peak topic.
func (m *HostMonitor) resetPeakHandler(_ mqtt.Client, _ mqtt.Message) {
	m.ResetPeak()
}

// SetConnected records whether the serial link is up and publishes the
// change immediately.
func (m *HostMonitor) SetConnected(up bool) {
	m.mu.Lock()
	m.connected = up
	m.mu.Unlock()
	m.PublishState()
}

func (m *HostMonitor) state() hostState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hostState{
		At:        m.now(),
		Connected: m.connected,
		Current:   m.stats.Last,
		Peak:      m.window.Peak(),
		RMS:       m.window.RMS(),
		Status:    serialproto.StatusToken(m.stats.Status),
		EStop:     m.estopActive,
		Firmware:  m.stats.Firmware,
	}
}

// PublishState sends current, peak, rms, status and connected to the state
// topic. It is a no-op without a broker.
func (m *HostMonitor) PublishState() {
	if m.relay == nil || m.stateTopic == "" {
		return
	}
	payload, err := json.Marshal(m.state())
	if err != nil {
		log.Printf("host monitor: json marshal error: %v", err)
		return
	}
	token := m.relay.Publish(m.stateTopic, 0, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		log.Printf("host monitor: state publish to %s timed out", m.stateTopic)
	} else if err := token.Error(); err != nil {
		log.Printf("host monitor: state publish error: %v", err)
	}
}

func (m *HostMonitor) Stats() HostStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Peak = m.window.Peak()
	s.RMS = m.window.RMS()
	return s
}

// Flush writes buffered CSV rows.
func (m *HostMonitor) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.csv == nil {
		return nil
	}
	m.csv.Flush()
	return m.csv.Error()
}

// consume feeds every line of r to HandleLine until r fails or ctx is done.
func (m *HostMonitor) consume(ctx context.Context, r io.ReadCloser) error {
	scan := bufio.NewScanner(r)
	lineChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		errChan <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return ctx.Err()
		case line, ok := <-lineChan:
			if !ok {
				if err := <-errChan; err != nil {
					return err
				}
				return io.EOF
			}
			m.HandleLine(line)
		}
	}
}

func (m *HostMonitor) logStats() {
	s := m.Stats()
	log.Printf("host monitor: lines=%d data=%d estops=%d parse_errors=%d reconnects=%d status=%s last=%.3f g peak=%.3f g rms=%.3f g",
		s.Lines, s.Data, s.EStops, s.ParseErrors, s.Reconnects, s.Status.Label(), s.Last, s.Peak, s.RMS)
}

// findPort returns name, or the first serial port on the system when name is
// empty.
func findPort(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("host monitor: list ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("host monitor: no serial ports found")
	}
	return ports[0], nil
}

// RunHostMonitor reads the monitor's serial stream with reconnects until ctx
// is done.
func RunHostMonitor(ctx context.Context, cfg *config.Config) error {
	logName := filepath.Join(cfg.HostLogDir, fmt.Sprintf("vibration_log_%s.csv", time.Now().Format("20060102_150405")))
	f, err := os.Create(logName)
	if err != nil {
		return fmt.Errorf("host monitor: create log: %w", err)
	}
	defer f.Close()
	log.Printf("host monitor: logging to %s", logName)

	var (
		relay  mqttPublisher
		client mqtt.Client
	)
	if cfg.MQTTBroker != "" {
		if client, err = connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-host"); err != nil {
			return err
		}
		defer client.Disconnect(250)
		relay = client
	}

	m := NewHostMonitor(f, relay, cfg.TopicEStopTrigger, cfg.TopicHostStatus, cfg.RMSWindow)
	defer m.Flush()
	defer m.SetConnected(false)

	if client != nil && cfg.TopicResetPeak != "" {
		if token := client.Subscribe(cfg.TopicResetPeak, 1, m.resetPeakHandler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("host monitor: subscribe %s: %w", cfg.TopicResetPeak, token.Error())
		}
		log.Printf("host monitor: reset-peak on %s, state on %s", cfg.TopicResetPeak, cfg.TopicHostStatus)
	}
	m.SetConnected(false)

	go func() {
		statsTicker := time.NewTicker(hostStatsInterval)
		defer statsTicker.Stop()
		stateTicker := time.NewTicker(hostStateInterval)
		defer stateTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				m.logStats()
			case <-stateTicker.C:
				m.PublishState()
			}
		}
	}()

	mode := &serial.Mode{BaudRate: cfg.SerialBaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	first := true
	for {
		if !first {
			m.mu.Lock()
			m.stats.Reconnects++
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(hostReconnectDelay):
			}
		}
		first = false

		name, err := findPort(cfg.HostSerialPort)
		if err != nil {
			log.Printf("%v", err)
			continue
		}
		port, err := serial.Open(name, mode)
		if err != nil {
			log.Printf("host monitor: open %s: %v", name, err)
			continue
		}
		log.Printf("host monitor: connected to %s at %d baud", name, cfg.SerialBaudRate)
		m.SetConnected(true)

		err = m.consume(ctx, port)
		port.Close()
		m.SetConnected(false)
		if ctx.Err() != nil {
			m.logStats()
			return nil
		}
		log.Printf("host monitor: connection to %s lost: %v", name, err)
	}
}
