/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package sqlite persists room fields to a local SQLite file. It is the
// durable flavour of the local-only backend: values survive restarts but
// nothing is pushed to other processes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Seednode/santabox/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_field (
    room       TEXT NOT NULL,
    field      TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (room, field)
);
`

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open creates (if needed) and opens the database at path. Use ":memory:"
// for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// SQLite serialises writers anyway; one connection also keeps
	// :memory: databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Read(ctx context.Context, key store.Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM room_field WHERE room = ? AND field = ?
	`, key.Room, string(key.Field)).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", key, err)
	}

	return value, nil
}

func (s *Store) Write(ctx context.Context, key store.Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_field (room, field, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (room, field) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key.Room, string(key.Field), value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: write %s: %w", key, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
