// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite stores personas, skills and session injection state in
// SQLite through modernc.org/sqlite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"

	_ "modernc.org/sqlite"
)

// Store groups the three stores sharing one database.
type Store struct {
	db       *sql.DB
	Personas *PersonaStore
	Skills   *SkillStore
	Sessions *SessionStore
}

// Open opens dsn with the sqlite driver and ensures the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cerrors.New(cerrors.CodeStoreError, "open sqlite", err).WithContext("dsn", dsn)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, cerrors.InvalidInput("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, cerrors.New(cerrors.CodeStoreError, "create schema", err)
	}
	return &Store{
		db:       db,
		Personas: &PersonaStore{db: db},
		Skills:   &SkillStore{db: db},
		Sessions: &SessionStore{db: db},
	}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			instructions TEXT NOT NULL DEFAULT '',
			allowed_backends_json TEXT NOT NULL DEFAULT '[]',
			can_orchestrate INTEGER NOT NULL DEFAULT 0,
			default_backend TEXT NOT NULL DEFAULT '',
			default_max_tokens INTEGER NOT NULL DEFAULT 0,
			default_temperature REAL NOT NULL DEFAULT 0,
			sort_order INTEGER NOT NULL DEFAULT 0,
			deleted_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_personas_name ON personas(lower(name));

		CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			when_to_use TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL DEFAULT '[]',
			trigger_text TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			scope_json TEXT NOT NULL DEFAULT '[]',
			sort_order INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			allowed_tools_json TEXT NOT NULL DEFAULT '[]',
			dir TEXT NOT NULL DEFAULT '',
			deleted_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_skills_name ON skills(lower(name));
		CREATE INDEX IF NOT EXISTS idx_skills_category ON skills(category);

		CREATE TABLE IF NOT EXISTS session_injected_skills (
			session_id TEXT NOT NULL,
			skill_id TEXT NOT NULL,
			injected_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, skill_id)
		);
	`)
	return err
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func storeErr(op string, err error) *cerrors.ConclaveError {
	return cerrors.New(cerrors.CodeStoreError, op, err).WithRecoverable(true)
}

type scanner interface {
	Scan(dest ...any) error
}
