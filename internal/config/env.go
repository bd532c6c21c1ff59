// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/phaselog/internal/log"
	"github.com/rs/zerolog"
)

// ParseString reads a string from the environment or returns defaultValue.
// The chosen source is logged at debug level; sensitive values are not.
func ParseString(key, defaultValue string) string {
	v, _ := lookup(log.WithComponent("config"), key, defaultValue, func(s string) (string, error) { return s, nil },
		func(e *zerolog.Event, k, v string) *zerolog.Event { return e.Str(k, v) })
	return v
}

// ParseInt reads an integer, falling back to defaultValue on parse errors.
func ParseInt(key string, defaultValue int) int {
	v, _ := lookup(log.WithComponent("config"), key, defaultValue, strconv.Atoi,
		func(e *zerolog.Event, k string, v int) *zerolog.Event { return e.Int(k, v) })
	return v
}

// ParseDuration reads a Go duration ("5s"), falling back to defaultValue on parse errors.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, _ := lookup(log.WithComponent("config"), key, defaultValue, time.ParseDuration,
		func(e *zerolog.Event, k string, v time.Duration) *zerolog.Event { return e.Dur(k, v) })
	return v
}

// ParseFloat reads a float, falling back to defaultValue on parse errors.
func ParseFloat(key string, defaultValue float64) float64 {
	v, _ := lookup(log.WithComponent("config"), key, defaultValue,
		func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		func(e *zerolog.Event, k string, v float64) *zerolog.Event { return e.Float64(k, v) })
	return v
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	v, _ := lookup(log.WithComponent("config"), key, defaultValue, parseBool,
		func(e *zerolog.Event, k string, v bool) *zerolog.Event { return e.Bool(k, v) })
	return v
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// lookup resolves key from the environment. The second result reports
// whether the environment supplied the value.
func lookup[T any](
	logger zerolog.Logger,
	key string,
	defaultValue T,
	parse func(string) (T, error),
	field func(*zerolog.Event, string, T) *zerolog.Event,
) (T, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		field(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue, false
	}
	if raw == "" {
		field(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue, false
	}

	v, err := parse(raw)
	if err != nil {
		ev := logger.Warn().Str("key", key)
		if !sensitive(key) {
			ev = ev.Str("value", raw)
		}
		field(ev, "default", defaultValue).Msg("invalid value in environment variable, using default")
		return defaultValue, false
	}

	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitive(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		field(ev, "value", v).Msg("using environment variable")
	}
	return v, true
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}
