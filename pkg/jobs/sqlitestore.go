// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"database/sql"
	"time"

	"github.com/gomlx/styletransfer/internal/fsutil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps one row per job in a SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	style TEXT NOT NULL,
	result TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs(created_at);
`

// NewSQLiteStore opens (or creates) the database in dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath, err := fsutil.ReplaceTildeInDir(dbPath)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "open database %q", dbPath)
	}
	if err = conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "ping database %q", dbPath)
	}
	if _, err = conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "initialize database %q", dbPath)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(rec Record) error {
	_, err := s.conn.Exec(`
		INSERT INTO jobs (id, status, progress, error, content, style, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			content = excluded.content,
			style = excluded.style,
			result = excluded.result,
			updated_at = excluded.updated_at`,
		string(rec.ID), string(rec.Status), rec.Progress, rec.Error, rec.Content, rec.Style, rec.Result,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	return errors.Wrapf(err, "saving job %q", rec.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var id, status string
	var createdAt, updatedAt int64
	err := row.Scan(&id, &status, &rec.Progress, &rec.Error, &rec.Content, &rec.Style, &rec.Result,
		&createdAt, &updatedAt)
	if err != nil {
		return rec, err
	}
	rec.ID, rec.Status = ID(id), Status(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

const selectColumns = `SELECT id, status, progress, error, content, style, result, created_at, updated_at FROM jobs`

// Load implements Store.
func (s *SQLiteStore) Load(id ID) (Record, error) {
	rec, err := scanRecord(s.conn.QueryRow(selectColumns+` WHERE id = ?`, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, errors.Wrapf(ErrNotFound, "job %q", id)
		}
		return rec, errors.Wrapf(err, "loading job %q", id)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]Record, error) {
	rows, err := s.conn.Query(selectColumns + ` ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing jobs")
	}
	defer func() { _ = rows.Close() }()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "listing jobs")
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "listing jobs")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}
