// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package badger is an embedded LSM backend.
//
// Layout:
//   - log records: key = "log/<group>\x00<seq big-endian>" (kv.Entry JSON)
//   - group index: key = "grp/<group>" (empty)
//   - objects:     key = "obj/<id>" (kv.Entry JSON)
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/storage/kv"
	"github.com/dgraph-io/badger/v4"
)

var (
	prefixLog    = []byte("log/")
	prefixGroup  = []byte("grp/")
	prefixObject = []byte("obj/")
)

type Store struct {
	db *badger.DB
}

// Open opens the badger directory at path, creating it if needed.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func groupPrefix(group string) []byte {
	p := make([]byte, 0, len(prefixLog)+len(group)+1)
	p = append(p, prefixLog...)
	p = append(p, group...)
	return append(p, 0)
}

func recordKey(group string, seq int64) []byte {
	return append(groupPrefix(group), kv.SeqKey(seq)...)
}

func (s *Store) Append(ctx context.Context, rec seqlog.Record) error {
	key := recordKey(rec.GroupID, rec.SequenceID)
	val, err := kv.Marshal(rec.Encoding, rec.Obj)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s/%d", seqlog.ErrDuplicate, rec.GroupID, rec.SequenceID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		gkey := append(bytes.Clone(prefixGroup), rec.GroupID...)
		if _, err := txn.Get(gkey); errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(gkey, []byte{}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
}

func (s *Store) Last(ctx context.Context, group string) (int64, bool, error) {
	prefix := groupPrefix(group)
	var (
		last  int64
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Past every 8-byte sequence suffix under prefix.
		seek := append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, 9)...)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		seq, err := kv.ParseSeq(it.Item().Key()[len(prefix):])
		if err != nil {
			return err
		}
		last, found = seq, true
		return nil
	})
	return last, found, err
}

func (s *Store) Scan(ctx context.Context, group string, fn func(seqlog.Record) error) error {
	prefix := groupPrefix(group)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			seq, err := kv.ParseSeq(item.Key()[len(prefix):])
			if err != nil {
				return err
			}
			var entry kv.Entry
			if err := item.Value(func(val []byte) error {
				entry, err = kv.Unmarshal(val)
				return err
			}); err != nil {
				return err
			}
			rec := seqlog.Record{GroupID: group, SequenceID: seq, Encoding: entry.Encoding, Obj: entry.Obj}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Groups(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixGroup); it.ValidForPrefix(prefixGroup); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefixGroup):]))
		}
		return nil
	})
	return out, err
}

func (s *Store) Replace(ctx context.Context, id string, doc objstore.Document) error {
	val, err := kv.Marshal(doc.Encoding, doc.Obj)
	if err != nil {
		return err
	}
	key := append(bytes.Clone(prefixObject), id...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *Store) Find(ctx context.Context, id string) (objstore.Document, bool, error) {
	key := append(bytes.Clone(prefixObject), id...)
	var entry kv.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = kv.Unmarshal(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return objstore.Document{}, false, nil
	}
	if err != nil {
		return objstore.Document{}, false, err
	}
	return objstore.Document{Encoding: entry.Encoding, Obj: entry.Obj}, true, nil
}

var (
	_ seqlog.Store     = (*Store)(nil)
	_ objstore.Backend = (*Store)(nil)
)
