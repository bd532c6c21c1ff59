// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bolt is a single-file B+tree backend. Each group is a nested
// bucket under b_log keyed by big-endian sequence id.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/storage/kv"
	bolt "go.etcd.io/bbolt"
)

// FileName is used when Open is given a directory.
const FileName = "phaselog.bolt"

var (
	bucketLog     = []byte("b_log")
	bucketObjects = []byte("b_objects")
)

type Store struct {
	db *bolt.DB
}

// Open opens or creates the bolt file at path. A directory path gets
// FileName appended.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("bolt store path required")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("bolt: create store dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLog, bucketObjects} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, rec seqlog.Record) error {
	val, err := kv.Marshal(rec.Encoding, rec.Obj)
	if err != nil {
		return err
	}
	key := kv.SeqKey(rec.SequenceID)
	return s.db.Update(func(tx *bolt.Tx) error {
		g, err := tx.Bucket(bucketLog).CreateBucketIfNotExists([]byte(rec.GroupID))
		if err != nil {
			return err
		}
		if g.Get(key) != nil {
			return fmt.Errorf("%w: %s/%d", seqlog.ErrDuplicate, rec.GroupID, rec.SequenceID)
		}
		return g.Put(key, val)
	})
}

func (s *Store) Last(ctx context.Context, group string) (int64, bool, error) {
	var (
		last  int64
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		g := tx.Bucket(bucketLog).Bucket([]byte(group))
		if g == nil {
			return nil
		}
		k, _ := g.Cursor().Last()
		if k == nil {
			return nil
		}
		seq, err := kv.ParseSeq(k)
		if err != nil {
			return err
		}
		last, found = seq, true
		return nil
	})
	return last, found, err
}

func (s *Store) Scan(ctx context.Context, group string, fn func(seqlog.Record) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		g := tx.Bucket(bucketLog).Bucket([]byte(group))
		if g == nil {
			return nil
		}
		c := g.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			seq, err := kv.ParseSeq(k)
			if err != nil {
				return err
			}
			entry, err := kv.Unmarshal(v)
			if err != nil {
				return err
			}
			if err := fn(seqlog.Record{GroupID: group, SequenceID: seq, Encoding: entry.Encoding, Obj: entry.Obj}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Groups(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLog).ForEachBucket(func(name []byte) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}

func (s *Store) Replace(ctx context.Context, id string, doc objstore.Document) error {
	val, err := kv.Marshal(doc.Encoding, doc.Obj)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte(id), val)
	})
}

func (s *Store) Find(ctx context.Context, id string) (objstore.Document, bool, error) {
	var (
		entry kv.Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(id))
		if v == nil {
			return nil
		}
		var err error
		entry, err = kv.Unmarshal(v)
		found = err == nil
		return err
	})
	if err != nil || !found {
		return objstore.Document{}, false, err
	}
	return objstore.Document{Encoding: entry.Encoding, Obj: entry.Obj}, true, nil
}

var (
	_ seqlog.Store     = (*Store)(nil)
	_ objstore.Backend = (*Store)(nil)
)
