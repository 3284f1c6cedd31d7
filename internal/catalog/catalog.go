// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package catalog keeps a SQLite record of the alignments fitted for each session, so clock
// drift can be followed across recording days.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Alignment is one stream's synchronization outcome within a session.
type Alignment struct {
	ID            string
	Session       string
	Stream        string
	Reference     string
	Kind          string
	Offset        float64
	Scale         float64
	Pairs         int
	Dropped       int
	Lag           int
	ResidualRMS   float64
	MaxResidual   float64
	LowConfidence bool
	Error         string // Empty when the stream was aligned
	CreatedAt     time.Time
}

// Catalog is an alignment store backed by SQLite.
type Catalog struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// Open opens or creates a catalog database at the given path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	c := &Catalog{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return c, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// NewID returns a fresh time-ordered identifier.
func (c *Catalog) NewID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS alignments (
		id             TEXT PRIMARY KEY,
		session        TEXT NOT NULL,
		stream         TEXT NOT NULL,
		reference      TEXT NOT NULL,
		kind           TEXT NOT NULL,
		offset_s       REAL NOT NULL,
		scale          REAL NOT NULL,
		pairs          INTEGER NOT NULL,
		dropped        INTEGER NOT NULL,
		lag            INTEGER NOT NULL,
		residual_rms   REAL NOT NULL,
		max_residual   REAL NOT NULL,
		low_confidence INTEGER NOT NULL DEFAULT 0,
		error          TEXT,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alignments_session ON alignments(session, stream);
	CREATE INDEX IF NOT EXISTS idx_alignments_stream ON alignments(stream, created_at DESC);
	`)
	return err
}

// Record stores the alignments of one session run in a single transaction. IDs and creation
// times are assigned to the returned copies.
func (c *Catalog) Record(ctx context.Context, alignments []Alignment) ([]Alignment, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stored := make([]Alignment, 0, len(alignments))
	for _, a := range alignments {
		a.ID = c.NewID()
		a.CreatedAt = now.Truncate(time.Second)

		var errText *string
		if a.Error != "" {
			errText = &a.Error
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO alignments (id, session, stream, reference, kind, offset_s, scale, pairs, dropped, lag,
			                         residual_rms, max_residual, low_confidence, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Session, a.Stream, a.Reference, a.Kind, a.Offset, a.Scale, a.Pairs, a.Dropped, a.Lag,
			a.ResidualRMS, a.MaxResidual, a.LowConfidence, errText, now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("insert alignment for %q: %w", a.Stream, err)
		}
		stored = append(stored, a)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// ListParams filters List. Empty fields match everything.
type ListParams struct {
	Session string
	Stream  string
	Limit   int
}

// List returns stored alignments, newest first.
func (c *Catalog) List(ctx context.Context, p ListParams) ([]Alignment, error) {
	query := `SELECT id, session, stream, reference, kind, offset_s, scale, pairs, dropped, lag,
	                 residual_rms, max_residual, low_confidence, error, created_at
	          FROM alignments WHERE 1=1`
	var args []any
	if p.Session != "" {
		query += " AND session = ?"
		args = append(args, p.Session)
	}
	if p.Stream != "" {
		query += " AND stream = ?"
		args = append(args, p.Stream)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if p.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", p.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alignments: %w", err)
	}
	defer rows.Close()

	var out []Alignment
	for rows.Next() {
		var (
			a         Alignment
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Session, &a.Stream, &a.Reference, &a.Kind, &a.Offset, &a.Scale,
			&a.Pairs, &a.Dropped, &a.Lag, &a.ResidualRMS, &a.MaxResidual, &a.LowConfidence,
			&errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alignment: %w", err)
		}
		a.Error = errText.String
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of alignment %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
