// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/storage/memory"
	"github.com/ManuGH/phaselog/internal/storage/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		cfg   Config
		file  string
		isMem bool
	}{
		{name: "default sqlite", cfg: Config{Path: t.TempDir()}, file: "phaselog.sqlite"},
		{name: "sqlite without path", cfg: Config{Backend: BackendSQLite}, isMem: true},
		{name: "memory", cfg: Config{Backend: BackendMemory}, isMem: true},
		{name: "bolt", cfg: Config{Backend: BackendBolt, Path: t.TempDir()}, file: "phaselog.bolt"},
		{name: "badger", cfg: Config{Backend: BackendBadger, Path: t.TempDir()}, file: "badger"},
		{name: "redis", cfg: Config{Backend: BackendRedis, Redis: redis.Config{Addr: mr.Addr()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(tt.cfg)
			require.NoError(t, err)
			defer b.Close()

			_, isMem := b.(*memory.Store)
			assert.Equal(t, tt.isMem, isMem)
			if tt.file != "" {
				_, err := os.Stat(filepath.Join(tt.cfg.Path, tt.file))
				require.NoError(t, err)
			}

			ctx := context.Background()
			require.NoError(t, b.Append(ctx, seqlog.Record{GroupID: "g", SequenceID: 0, Encoding: seqlog.EncodingJSON, Obj: []byte("1")}))
			last, ok, err := b.Last(ctx, "g")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Zero(t, last)
		})
	}
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(Config{Backend: "mongo"})
	require.Error(t, err)
	_, err = Open(Config{Backend: BackendBolt})
	require.Error(t, err)
	_, err = Open(Config{Backend: BackendBadger})
	require.Error(t, err)
}
