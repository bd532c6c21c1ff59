// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend is what the suite exercises.
type Backend interface {
	seqlog.Store
	objstore.Backend
}

// Opener returns a backend rooted at dir. Calling it twice with the same dir
// must reopen the same data, unless the backend is not durable.
type Opener func(t *testing.T, dir string) Backend

// Run executes the suite. durable is false for backends that lose their data
// on Close.
func Run(t *testing.T, open Opener, durable bool) {
	t.Run("AppendScanOrdered", func(t *testing.T) { testAppendScanOrdered(t, open) })
	t.Run("LastEmptyGroup", func(t *testing.T) { testLastEmptyGroup(t, open) })
	t.Run("DuplicateRejected", func(t *testing.T) { testDuplicateRejected(t, open) })
	t.Run("GroupsIsolated", func(t *testing.T) { testGroupsIsolated(t, open) })
	t.Run("ScanStopsOnError", func(t *testing.T) { testScanStopsOnError(t, open) })
	t.Run("ReplaceFind", func(t *testing.T) { testReplaceFind(t, open) })
	if durable {
		t.Run("Reopen", func(t *testing.T) { testReopen(t, open) })
	}
}

func rec(group string, seq int64) seqlog.Record {
	return seqlog.Record{
		GroupID:    group,
		SequenceID: seq,
		Encoding:   seqlog.EncodingJSON,
		Obj:        []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
	}
}

func scanAll(t *testing.T, s Backend, group string) []seqlog.Record {
	t.Helper()
	var out []seqlog.Record
	require.NoError(t, s.Scan(context.Background(), group, func(r seqlog.Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func openClosed(t *testing.T, open Opener) Backend {
	t.Helper()
	s := open(t, t.TempDir())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAppendScanOrdered(t *testing.T, open Opener) {
	s := openClosed(t, open)
	ctx := context.Background()

	// Out of order on purpose: ordering comes from the sequence id.
	for _, seq := range []int64{0, 2, 1, 10, 3} {
		require.NoError(t, s.Append(ctx, rec("g", seq)))
	}

	got := scanAll(t, s, "g")
	require.Len(t, got, 5)
	for i, want := range []int64{0, 1, 2, 3, 10} {
		assert.Equal(t, want, got[i].SequenceID)
		assert.Equal(t, "g", got[i].GroupID)
		assert.Equal(t, seqlog.EncodingJSON, got[i].Encoding)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, want), string(got[i].Obj))
	}

	last, ok, err := s.Last(ctx, "g")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), last)
}

func testLastEmptyGroup(t *testing.T, open Opener) {
	s := openClosed(t, open)
	_, ok, err := s.Last(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, scanAll(t, s, "nobody"))
}

func testDuplicateRejected(t *testing.T, open Opener) {
	s := openClosed(t, open)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("g", 0)))
	dup := rec("g", 0)
	dup.Obj = []byte(`{"other":true}`)
	require.ErrorIs(t, s.Append(ctx, dup), seqlog.ErrDuplicate)

	got := scanAll(t, s, "g")
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"seq":0}`, string(got[0].Obj))
}

func testGroupsIsolated(t *testing.T, open Opener) {
	s := openClosed(t, open)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("a", 0)))
	require.NoError(t, s.Append(ctx, rec("a", 1)))
	require.NoError(t, s.Append(ctx, rec("ab", 0)))
	require.NoError(t, s.Append(ctx, rec("b", 7)))

	assert.Len(t, scanAll(t, s, "a"), 2)
	assert.Len(t, scanAll(t, s, "ab"), 1)

	last, ok, err := s.Last(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), last)

	groups, err := s.Groups(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "ab", "b"}, groups)
}

func testScanStopsOnError(t *testing.T, open Opener) {
	s := openClosed(t, open)
	ctx := context.Background()
	for seq := int64(0); seq < 3; seq++ {
		require.NoError(t, s.Append(ctx, rec("g", seq)))
	}

	stop := errors.New("stop")
	calls := 0
	err := s.Scan(ctx, "g", func(seqlog.Record) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func testReplaceFind(t *testing.T, open Opener) {
	s := openClosed(t, open)
	ctx := context.Background()

	_, ok, err := s.Find(ctx, "0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Replace(ctx, "0", objstore.Document{Encoding: codec.FormatJSON, Obj: []byte(`1`)}))
	require.NoError(t, s.Replace(ctx, "0", objstore.Document{Encoding: codec.FormatBinary, Obj: []byte{0x01, 0x02}}))

	doc, ok, err := s.Find(ctx, "0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, codec.FormatBinary, doc.Encoding)
	assert.Equal(t, []byte{0x01, 0x02}, doc.Obj)
}

func testReopen(t *testing.T, open Opener) {
	dir := t.TempDir()
	ctx := context.Background()

	s := open(t, dir)
	require.NoError(t, s.Append(ctx, rec("g", 0)))
	require.NoError(t, s.Append(ctx, rec("g", 1)))
	require.NoError(t, s.Replace(ctx, "obj", objstore.Document{Encoding: codec.FormatJSON, Obj: []byte(`"x"`)}))
	require.NoError(t, s.Close())

	s = open(t, dir)
	defer s.Close()
	last, ok, err := s.Last(ctx, "g")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), last)
	assert.Len(t, scanAll(t, s, "g"), 2)

	doc, ok, err := s.Find(ctx, "obj")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`"x"`), doc.Obj)
}
