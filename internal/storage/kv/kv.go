// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package kv holds the value and key layout shared by the key-value backends.
package kv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/phaselog/internal/codec"
)

// Entry is the stored value of a log record or an object.
type Entry struct {
	Encoding codec.Format `json:"encoding"`
	Obj      []byte       `json:"obj"`
}

func Marshal(enc codec.Format, obj []byte) ([]byte, error) {
	return json.Marshal(Entry{Encoding: enc, Obj: obj})
}

func Unmarshal(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: stored entry: %v", codec.ErrCorrupt, err)
	}
	return e, nil
}

// SeqKey encodes a non-negative sequence id so byte order matches numeric order.
func SeqKey(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

// ParseSeq reverses SeqKey.
func ParseSeq(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: sequence key of %d bytes", codec.ErrCorrupt, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
