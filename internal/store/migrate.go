package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS enrollees (
		id          TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		email       TEXT UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS faces (
		id          TEXT PRIMARY KEY,
		enrollee_id TEXT NOT NULL REFERENCES enrollees(id) ON DELETE CASCADE,
		encoding    vector NOT NULL,
		image_key   TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_enrollee ON faces(enrollee_id)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id          TEXT PRIMARY KEY,
		enrollee_id TEXT NOT NULL REFERENCES enrollees(id) ON DELETE CASCADE,
		day         DATE NOT NULL,
		marked_at   TIMESTAMPTZ NOT NULL,
		status      TEXT NOT NULL DEFAULT 'present',
		CONSTRAINT attendance_enrollee_day_uc UNIQUE (enrollee_id, day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance(day)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// SQLite keeps encodings as pgvector text literals ("[0.1,0.2,...]").
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS enrollees (
		id          TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		email       TEXT UNIQUE,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS faces (
		id          TEXT PRIMARY KEY,
		enrollee_id TEXT NOT NULL REFERENCES enrollees(id) ON DELETE CASCADE,
		encoding    TEXT NOT NULL,
		image_key   TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_enrollee ON faces(enrollee_id)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id          TEXT PRIMARY KEY,
		enrollee_id TEXT NOT NULL REFERENCES enrollees(id) ON DELETE CASCADE,
		day         TEXT NOT NULL,
		marked_at   TIMESTAMP NOT NULL,
		status      TEXT NOT NULL DEFAULT 'present',
		UNIQUE (enrollee_id, day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance(day)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Migrate creates the schema for the connection's dialect. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	var stmts []string
	switch d.Driver {
	case DriverPostgres:
		stmts = postgresSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}
	for i, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
