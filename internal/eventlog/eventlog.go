// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package eventlog persists severity transitions, threshold changes and
// controller sync marks in a local sqlite database.
package eventlog

import (
	"database/sql"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("eventlog: %s: %w", pragma, err)
		}
	}

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. No change is not an error.
func (s *Store) MigrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("eventlog: migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("eventlog: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("eventlog: migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	// m is not closed: that would close the shared *sql.DB
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("eventlog: migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Record stores one severity transition.
func (s *Store) Record(ev telemetry.Event) error {
	_, err := s.Exec(`INSERT INTO events (id, at_unix_ns, seq, from_level, to_level, magnitude, estop)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.At.UnixNano(), int64(ev.Seq), ev.From.String(), ev.To.String(), ev.Magnitude, ev.EStop())
	if err != nil {
		return fmt.Errorf("eventlog: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// RecordThresholds stores an accepted threshold change and where it came from.
func (s *Store) RecordThresholds(ts vibration.ThresholdSet, source string) error {
	_, err := s.Exec(`INSERT INTO threshold_changes (id, at_unix_ns, warning, critical, emergency, hysteresis, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), time.Now().UnixNano(), ts.Warning, ts.Critical, ts.Emergency, ts.Hysteresis, source)
	if err != nil {
		return fmt.Errorf("eventlog: insert threshold change: %w", err)
	}
	return nil
}

// RecordMarker stores an external sync mark against the record stream.
func (s *Store) RecordMarker(at time.Time, seq uint64, magnitude float64, source string) error {
	_, err := s.Exec(`INSERT INTO markers (id, at_unix_ns, seq, magnitude, source) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), at.UnixNano(), int64(seq), magnitude, source)
	if err != nil {
		return fmt.Errorf("eventlog: insert marker: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]telemetry.Event, error) {
	rows, err := s.Query(`SELECT id, at_unix_ns, seq, from_level, to_level, magnitude
		FROM events ORDER BY at_unix_ns DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Event
	for rows.Next() {
		var (
			id       string
			atNS     int64
			seq      int64
			from, to string
			ev       telemetry.Event
		)
		if err := rows.Scan(&id, &atNS, &seq, &from, &to, &ev.Magnitude); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("eventlog: event id %q: %w", id, err)
		}
		if err := ev.From.UnmarshalText([]byte(from)); err != nil {
			return nil, fmt.Errorf("eventlog: event %s: %w", id, err)
		}
		if err := ev.To.UnmarshalText([]byte(to)); err != nil {
			return nil, fmt.Errorf("eventlog: event %s: %w", id, err)
		}
		ev.At = time.Unix(0, atNS)
		ev.Seq = uint64(seq)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// WriteCSV writes up to limit recent events as CSV with a header row.
func (s *Store) WriteCSV(w io.Writer, limit int) error {
	events, err := s.Recent(limit)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "time", "seq", "from", "to", "magnitude", "estop"}); err != nil {
		return err
	}
	for _, ev := range events {
		if err := cw.Write([]string{
			ev.ID.String(),
			ev.At.UTC().Format(time.RFC3339Nano),
			strconv.FormatUint(ev.Seq, 10),
			ev.From.Label(),
			ev.To.Label(),
			strconv.FormatFloat(ev.Magnitude, 'f', 3, 64),
			strconv.FormatBool(ev.EStop()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
