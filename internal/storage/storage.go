// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage selects the backend that holds the sequence log and the
// object store.
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/storage/badger"
	"github.com/ManuGH/phaselog/internal/storage/bolt"
	"github.com/ManuGH/phaselog/internal/storage/memory"
	"github.com/ManuGH/phaselog/internal/storage/redis"
	"github.com/ManuGH/phaselog/internal/storage/sqlite"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendSQLite, BackendBadger, BackendBolt, BackendRedis, BackendMemory}

// Backend serves both the sequence log and the object store.
type Backend interface {
	seqlog.Store
	objstore.Backend
}

// Config selects and locates a backend.
type Config struct {
	Backend string
	// Path is a directory for the file backends.
	Path  string
	Redis redis.Config
}

// Open creates the configured backend. An empty backend name means sqlite;
// sqlite without a path falls back to memory.
func Open(cfg Config) (Backend, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	logger := log.WithComponent("storage").With().Str(log.FieldBackend, backend).Logger()

	var (
		b   Backend
		err error
	)
	switch backend {
	case BackendSQLite:
		if cfg.Path == "" {
			logger.Warn().Msg("no store path configured, using in-memory store")
			return memory.New(), nil
		}
		b, err = sqlite.Open(cfg.Path)
	case BackendBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: %s backend requires a path", backend)
		}
		b, err = badger.Open(filepath.Join(cfg.Path, "badger"))
	case BackendBolt:
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: %s backend requires a path", backend)
		}
		b, err = bolt.Open(filepath.Join(cfg.Path, bolt.FileName))
	case BackendRedis:
		b, err = redis.Open(cfg.Redis, logger)
	case BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: %v)", backend, Backends)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug().Str(log.FieldPath, cfg.Path).Msg("store opened")
	return b, nil
}
