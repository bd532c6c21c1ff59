// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package redis is a networked backend.
//
// Keys (prefix defaults to "phaselog"):
//   - <prefix>:log:<group>  hash seq -> kv.Entry JSON
//   - <prefix>:idx:<group>  sorted set of seq, score = seq
//   - <prefix>:groups       set of group ids
//   - <prefix>:objects      hash id -> kv.Entry JSON
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/storage/kv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const scanBatch = 256

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // Key prefix (optional)
}

type Store struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// Open connects and pings the server.
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "phaselog"
	}
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis store")

	return &Store{client: client, prefix: prefix, logger: logger}, nil
}

func (s *Store) logKey(group string) string { return s.prefix + ":log:" + group }
func (s *Store) idxKey(group string) string { return s.prefix + ":idx:" + group }
func (s *Store) groupsKey() string          { return s.prefix + ":groups" }
func (s *Store) objectsKey() string         { return s.prefix + ":objects" }

func (s *Store) Append(ctx context.Context, rec seqlog.Record) error {
	val, err := kv.Marshal(rec.Encoding, rec.Obj)
	if err != nil {
		return err
	}
	field := strconv.FormatInt(rec.SequenceID, 10)

	// HSETNX decides; the index and group writes are idempotent.
	var set *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		set = p.HSetNX(ctx, s.logKey(rec.GroupID), field, val)
		p.ZAdd(ctx, s.idxKey(rec.GroupID), redis.Z{Score: float64(rec.SequenceID), Member: field})
		p.SAdd(ctx, s.groupsKey(), rec.GroupID)
		return nil
	})
	if err != nil {
		return err
	}
	if !set.Val() {
		return fmt.Errorf("%w: %s/%d", seqlog.ErrDuplicate, rec.GroupID, rec.SequenceID)
	}
	return nil
}

func (s *Store) Last(ctx context.Context, group string) (int64, bool, error) {
	top, err := s.client.ZRevRange(ctx, s.idxKey(group), 0, 0).Result()
	if err != nil {
		return 0, false, err
	}
	if len(top) == 0 {
		return 0, false, nil
	}
	seq, err := strconv.ParseInt(top[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: bad index member %q: %w", top[0], err)
	}
	return seq, true, nil
}

func (s *Store) Scan(ctx context.Context, group string, fn func(seqlog.Record) error) error {
	for start := int64(0); ; start += scanBatch {
		members, err := s.client.ZRange(ctx, s.idxKey(group), start, start+scanBatch-1).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		vals, err := s.client.HMGet(ctx, s.logKey(group), members...).Result()
		if err != nil {
			return err
		}
		for i, m := range members {
			seq, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return fmt.Errorf("redis: bad index member %q: %w", m, err)
			}
			raw, ok := vals[i].(string)
			if !ok {
				return fmt.Errorf("redis: record %s/%d missing from %s", group, seq, s.logKey(group))
			}
			entry, err := kv.Unmarshal([]byte(raw))
			if err != nil {
				return err
			}
			if err := fn(seqlog.Record{GroupID: group, SequenceID: seq, Encoding: entry.Encoding, Obj: entry.Obj}); err != nil {
				return err
			}
		}
		if len(members) < scanBatch {
			return nil
		}
	}
}

func (s *Store) Groups(ctx context.Context) ([]string, error) {
	groups, err := s.client.SMembers(ctx, s.groupsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(groups)
	return groups, nil
}

func (s *Store) Replace(ctx context.Context, id string, doc objstore.Document) error {
	val, err := kv.Marshal(doc.Encoding, doc.Obj)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.objectsKey(), id, val).Err()
}

func (s *Store) Find(ctx context.Context, id string) (objstore.Document, bool, error) {
	raw, err := s.client.HGet(ctx, s.objectsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return objstore.Document{}, false, nil
	}
	if err != nil {
		return objstore.Document{}, false, err
	}
	entry, err := kv.Unmarshal(raw)
	if err != nil {
		return objstore.Document{}, false, err
	}
	return objstore.Document{Encoding: entry.Encoding, Obj: entry.Obj}, true, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// HealthCheck checks if Redis is available.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var (
	_ seqlog.Store     = (*Store)(nil)
	_ objstore.Backend = (*Store)(nil)
)
