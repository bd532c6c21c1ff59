// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite is the default durable backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
)

const (
	schemaVersion = 1
	// FileName is used when Open is given a directory.
	FileName = "phaselog.sqlite"
)

// Store implements seqlog.Store and objstore.Backend using SQLite.
type Store struct {
	DB *sql.DB
}

// Open opens or creates the database at path. A directory, or a path
// without an extension, gets FileName appended.
func Open(path string) (*Store, error) {
	if info, err := os.Stat(path); (err == nil && info.IsDir()) || filepath.Ext(path) == "" {
		path = filepath.Join(path, FileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("sqlite: create store dir: %w", err)
	}

	db, err := OpenDB(path, DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sequence_log (
		group_id TEXT NOT NULL,
		sequence_id INTEGER NOT NULL CHECK (sequence_id >= 0),
		encoding TEXT NOT NULL,
		obj BLOB NOT NULL,
		PRIMARY KEY (group_id, sequence_id)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		encoding TEXT NOT NULL,
		obj BLOB NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Append(ctx context.Context, rec seqlog.Record) error {
	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO sequence_log (group_id, sequence_id, encoding, obj)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(group_id, sequence_id) DO NOTHING`,
		rec.GroupID, rec.SequenceID, string(rec.Encoding), rec.Obj,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%d", seqlog.ErrDuplicate, rec.GroupID, rec.SequenceID)
	}
	return nil
}

func (s *Store) Last(ctx context.Context, group string) (int64, bool, error) {
	var last sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(sequence_id) FROM sequence_log WHERE group_id = ?`, group,
	).Scan(&last)
	if err != nil {
		return 0, false, err
	}
	return last.Int64, last.Valid, nil
}

func (s *Store) Scan(ctx context.Context, group string, fn func(seqlog.Record) error) error {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT sequence_id, encoding, obj FROM sequence_log
	WHERE group_id = ? ORDER BY sequence_id ASC`, group)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec := seqlog.Record{GroupID: group}
		var enc string
		if err := rows.Scan(&rec.SequenceID, &enc, &rec.Obj); err != nil {
			return err
		}
		rec.Encoding = seqlog.Encoding(enc)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Groups(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT group_id FROM sequence_log ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) Replace(ctx context.Context, id string, doc objstore.Document) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO objects (id, encoding, obj, updated_at_ms)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		encoding = excluded.encoding,
		obj = excluded.obj,
		updated_at_ms = excluded.updated_at_ms`,
		id, string(doc.Encoding), doc.Obj, time.Now().UnixMilli(),
	)
	return err
}

func (s *Store) Find(ctx context.Context, id string) (objstore.Document, bool, error) {
	var doc objstore.Document
	var enc string
	err := s.DB.QueryRowContext(ctx, `SELECT encoding, obj FROM objects WHERE id = ?`, id).Scan(&enc, &doc.Obj)
	if errors.Is(err, sql.ErrNoRows) {
		return objstore.Document{}, false, nil
	}
	if err != nil {
		return objstore.Document{}, false, err
	}
	doc.Encoding = codec.Format(enc)
	return doc, true, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

var (
	_ seqlog.Store     = (*Store)(nil)
	_ objstore.Backend = (*Store)(nil)
)
