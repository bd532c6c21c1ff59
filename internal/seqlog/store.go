// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package seqlog persists an ordered event stream per group with a gap-free
// sequence id that survives restarts, and replays it in order.
package seqlog

import (
	"context"
	"errors"

	"github.com/ManuGH/phaselog/internal/codec"
)

// Encoding tags which path produced Record.Obj.
type Encoding = codec.Format

const (
	EncodingJSON   = codec.FormatJSON
	EncodingBinary = codec.FormatBinary
)

// ErrDuplicate is returned by Store.Append when (group, sequence id) exists.
var ErrDuplicate = errors.New("duplicate sequence id")

// Record is one persisted log entry.
type Record struct {
	GroupID    string   `json:"group_id"`
	SequenceID int64    `json:"sequence_id"`
	Encoding   Encoding `json:"encoding"`
	Obj        []byte   `json:"obj"`
}

// Store is the persistent collaborator of Writer and Reader.
type Store interface {
	// Append inserts rec. It never overwrites.
	Append(ctx context.Context, rec Record) error
	// Last returns the highest sequence id recorded for group. ok is false
	// when the group has no records.
	Last(ctx context.Context, group string) (seq int64, ok bool, err error)
	// Scan calls fn for every record of group in ascending sequence order.
	// A non-nil error from fn stops the scan and is returned.
	Scan(ctx context.Context, group string, fn func(Record) error) error
	// Groups lists the known group ids.
	Groups(ctx context.Context) ([]string, error)
	Close() error
}
