// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package kv

import (
	"bytes"
	"testing"

	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqKeyOrdersNumerically(t *testing.T) {
	seqs := []int64{0, 1, 255, 256, 1 << 40}
	for i := 1; i < len(seqs); i++ {
		assert.Negative(t, bytes.Compare(SeqKey(seqs[i-1]), SeqKey(seqs[i])))
	}
	for _, s := range seqs {
		got, err := ParseSeq(SeqKey(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSeq([]byte{1})
	require.ErrorIs(t, err, codec.ErrCorrupt)
}

func TestEntry(t *testing.T) {
	b, err := Marshal(codec.FormatBinary, []byte{0, 1, 2})
	require.NoError(t, err)
	e, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, Entry{Encoding: codec.FormatBinary, Obj: []byte{0, 1, 2}}, e)

	_, err = Unmarshal([]byte("{"))
	require.ErrorIs(t, err, codec.ErrCorrupt)
}
