// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialproto encodes and decodes the VIB:* line protocol spoken on
// the USB serial export.
//
//	VIB:BOOT,<version>
//	VIB:HEADER,timestamp,ax,ay,az,gx,gy,gz,mag,status
//	VIB:DATA,<ms>,<ax>,<ay>,<az>,<gx>,<gy>,<gz>,<mag>,<status>
//	VIB:ESTOP,<ms>,<mag>,<status>
//	VIB:STATUS,<uptime s>,<received>,<dropped>,<peak>,<rms>,<status>
//
// Floats carry three decimals. Status is OK, WARNING, CRITICAL, ESTOP or FAULT.
package serialproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// Line prefixes.
const (
	KindBoot   = "VIB:BOOT"
	KindHeader = "VIB:HEADER"
	KindData   = "VIB:DATA"
	KindEStop  = "VIB:ESTOP"
	KindStatus = "VIB:STATUS"
)

const dataFields = 10

// ErrMalformed is returned for lines that start with VIB: but do not parse.
var ErrMalformed = errors.New("malformed VIB line")

// ErrNotProtocol is returned for lines that are not VIB:* lines.
var ErrNotProtocol = errors.New("not a VIB line")

// StatusToken is the serial name of a severity.
func StatusToken(s vibration.Severity) string {
	if s == vibration.Emergency {
		return "ESTOP"
	}
	return s.Label()
}

// ParseStatusToken is the inverse of StatusToken.
func ParseStatusToken(tok string) (vibration.Severity, error) {
	return vibration.ParseLabel(tok)
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// FormatBoot announces the firmware version.
func FormatBoot(version string) string {
	return KindBoot + "," + version
}

// FormatHeader names the DATA columns.
func FormatHeader() string {
	return KindHeader + ",timestamp,ax,ay,az,gx,gy,gz,mag,status"
}

// FormatData encodes the calibrated reading of a record.
func FormatData(rec vibration.Record) string {
	c := rec.Sample.Calibrated
	return strings.Join([]string{
		KindData,
		strconv.FormatInt(rec.Sample.Time.Milliseconds(), 10),
		ff(c.Accel.X), ff(c.Accel.Y), ff(c.Accel.Z),
		ff(c.Gyro.X), ff(c.Gyro.Y), ff(c.Gyro.Z),
		ff(rec.Sample.Magnitude),
		StatusToken(rec.Severity),
	}, ",")
}

// FormatEStop reports entry into an asserting severity.
func FormatEStop(at time.Duration, magnitude float64, s vibration.Severity) string {
	return fmt.Sprintf("%s,%d,%s,%s", KindEStop, at.Milliseconds(), ff(magnitude), StatusToken(s))
}

// Status is the periodic health line.
type Status struct {
	Uptime   time.Duration
	Received uint64
	Dropped  uint64
	Peak     float64
	RMS      float64
	Severity vibration.Severity
}

func FormatStatus(s Status) string {
	return fmt.Sprintf("%s,%d,%d,%d,%s,%s,%s", KindStatus,
		int64(s.Uptime.Seconds()), s.Received, s.Dropped, ff(s.Peak), ff(s.RMS), StatusToken(s.Severity))
}

// Data is a decoded VIB:DATA line.
type Data struct {
	TimestampMS int64
	Accel       vibration.Vec3
	Gyro        vibration.Vec3
	Magnitude   float64
	Status      vibration.Severity
}

// Message is one decoded line. Data is set for VIB:DATA only; Fields holds
// the comma separated values after the prefix for every kind.
type Message struct {
	Kind   string
	Fields []string
	Data   *Data
}

// EStop reports whether the message requests an emergency stop: an ESTOP
// line, or data whose status asserts.
func (m Message) EStop() bool {
	if m.Kind == KindEStop {
		return true
	}
	return m.Data != nil && m.Data.Status.Asserts()
}

// Parse decodes one line without its terminator.
func Parse(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "VIB:") {
		return Message{}, ErrNotProtocol
	}
	parts := strings.Split(line, ",")
	msg := Message{Kind: parts[0], Fields: parts[1:]}

	switch msg.Kind {
	case KindData:
		d, err := parseData(parts)
		if err != nil {
			return Message{}, err
		}
		msg.Data = d
	case KindEStop, KindStatus, KindBoot, KindHeader:
	default:
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, msg.Kind)
	}
	return msg, nil
}

func parseData(parts []string) (*Data, error) {
	if len(parts) != dataFields {
		return nil, fmt.Errorf("%w: DATA has %d fields, want %d", ErrMalformed, len(parts), dataFields)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q", ErrMalformed, parts[1])
	}
	var v [7]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(parts[2+i], 64); err != nil {
			return nil, fmt.Errorf("%w: field %d %q", ErrMalformed, 2+i, parts[2+i])
		}
	}
	status, err := ParseStatusToken(parts[9])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &Data{
		TimestampMS: ts,
		Accel:       vibration.Vec3{X: v[0], Y: v[1], Z: v[2]},
		Gyro:        vibration.Vec3{X: v[3], Y: v[4], Z: v[5]},
		Magnitude:   v[6],
		Status:      status,
	}, nil
}
