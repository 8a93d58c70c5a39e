// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package journal persists sidecar lifecycle events to a local sqlite
// database so operators can inspect past exits after the fact.
//
// The journal is advisory: the supervisor logs and drops append errors, and
// a broken journal never affects process management.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deepcontext/shell/internal/supervisor"
)

const schema = `
CREATE TABLE IF NOT EXISTS sidecar_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        TEXT    NOT NULL,
	kind      TEXT    NOT NULL,
	pid       INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER NOT NULL DEFAULT 0,
	detail    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sidecar_events_at ON sidecar_events(at);
`

// Store is a sqlite-backed event journal. It implements supervisor.Sink.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// sqlite allows one writer; the supervisor is the only one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records one lifecycle event.
func (s *Store) Append(ctx context.Context, ev supervisor.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sidecar_events (at, kind, pid, exit_code, detail) VALUES (?, ?, ?, ?, ?)`,
		at.Format(time.RFC3339Nano), ev.Kind, ev.PID, ev.ExitCode, ev.Detail)
	if err != nil {
		return fmt.Errorf("append journal event: %w", err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]supervisor.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, pid, exit_code, detail FROM sidecar_events ORDER BY id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var events []supervisor.Event
	for rows.Next() {
		var (
			at string
			ev supervisor.Event
		)
		if err := rows.Scan(&at, &ev.Kind, &ev.PID, &ev.ExitCode, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			ev.At = ts
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
