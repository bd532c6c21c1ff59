// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package memory is a process-local backend for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
)

var errClosed = errors.New("memory store closed")

// Store implements seqlog.Store and objstore.Backend using maps (thread-safe).
type Store struct {
	mu      sync.RWMutex
	closed  bool
	groups  map[string][]seqlog.Record
	objects map[string]objstore.Document
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		groups:  make(map[string][]seqlog.Record),
		objects: make(map[string]objstore.Document),
	}
}

func (s *Store) Append(ctx context.Context, rec seqlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	recs := s.groups[rec.GroupID]
	i, found := slices.BinarySearchFunc(recs, rec.SequenceID, func(r seqlog.Record, seq int64) int {
		switch {
		case r.SequenceID < seq:
			return -1
		case r.SequenceID > seq:
			return 1
		}
		return 0
	})
	if found {
		return fmt.Errorf("%w: %s/%d", seqlog.ErrDuplicate, rec.GroupID, rec.SequenceID)
	}
	// Copy to avoid race if caller reuses the buffer later
	rec.Obj = slices.Clone(rec.Obj)
	s.groups[rec.GroupID] = slices.Insert(recs, i, rec)
	return nil
}

func (s *Store) Last(ctx context.Context, group string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, errClosed
	}
	recs := s.groups[group]
	if len(recs) == 0 {
		return 0, false, nil
	}
	return recs[len(recs)-1].SequenceID, true, nil
}

func (s *Store) Scan(ctx context.Context, group string, fn func(seqlog.Record) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	recs := slices.Clone(s.groups[group])
	s.mu.RUnlock()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Groups(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Replace(ctx context.Context, id string, doc objstore.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	doc.Obj = slices.Clone(doc.Obj)
	s.objects[id] = doc
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (objstore.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return objstore.Document{}, false, errClosed
	}
	doc, ok := s.objects[id]
	if !ok {
		return objstore.Document{}, false, nil
	}
	doc.Obj = slices.Clone(doc.Obj)
	return doc, true, nil
}

// Close drops all data. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.groups = nil
	s.objects = nil
	return nil
}

var (
	_ seqlog.Store     = (*Store)(nil)
	_ objstore.Backend = (*Store)(nil)
)
