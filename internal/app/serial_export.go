// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/rokoter/LinuxCNC/internal/serialproto"
	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// SerialExporter writes the VIB:* line stream for the host monitor.
type SerialExporter struct {
	w           *bufio.Writer
	hub         *telemetry.Hub
	version     string
	statusEvery time.Duration

	prev vibration.Severity
}

func NewSerialExporter(w io.Writer, hub *telemetry.Hub, version string, statusEvery time.Duration) *SerialExporter {
	if statusEvery <= 0 {
		statusEvery = 10 * time.Second
	}
	return &SerialExporter{
		w:           bufio.NewWriter(w),
		hub:         hub,
		version:     version,
		statusEvery: statusEvery,
	}
}

// RunSerialExport opens the export port and streams until ctx is done.
func RunSerialExport(ctx context.Context, portName string, baud int, hub *telemetry.Hub, version string, statusEvery time.Duration) error {
	options := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("serial export: open %s: %w", portName, err)
	}
	defer port.Close()
	log.Printf("serial export: writing VIB stream to %s at %d baud", portName, baud)

	return NewSerialExporter(port, hub, version, statusEvery).Run(ctx)
}

// Run writes BOOT and HEADER, then one DATA line per record, an ESTOP line
// when the stream enters an asserting severity and a STATUS line
// periodically.
func (e *SerialExporter) Run(ctx context.Context) error {
	records, unsubscribe := e.hub.Subscribe(256)
	defer unsubscribe()

	if err := e.writeLines(serialproto.FormatBoot(e.version), serialproto.FormatHeader()); err != nil {
		return err
	}

	ticker := time.NewTicker(e.statusEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-records:
			if err := e.writeRecord(rec); err != nil {
				return err
			}
		case <-ticker.C:
			snap := e.hub.Snapshot()
			line := serialproto.FormatStatus(serialproto.Status{
				Uptime:   snap.Uptime,
				Received: snap.Received,
				Dropped:  snap.Dropped,
				Peak:     snap.Peak,
				RMS:      snap.RMS,
				Severity: snap.Severity,
			})
			if err := e.writeLines(line); err != nil {
				return err
			}
		}
	}
}

func (e *SerialExporter) writeRecord(rec vibration.Record) error {
	lines := []string{serialproto.FormatData(rec)}
	if rec.Severity.Asserts() && !e.prev.Asserts() {
		lines = append(lines, serialproto.FormatEStop(rec.Sample.Time, rec.Sample.Magnitude, rec.Severity))
	}
	e.prev = rec.Severity
	return e.writeLines(lines...)
}

func (e *SerialExporter) writeLines(lines ...string) error {
	for _, l := range lines {
		if _, err := e.w.WriteString(l + "\r\n"); err != nil {
			return fmt.Errorf("serial export: %w", err)
		}
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("serial export: %w", err)
	}
	return nil
}
