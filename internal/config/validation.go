// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"

	"github.com/ManuGH/phaselog/internal/storage"
	"github.com/ManuGH/phaselog/internal/telemetry"
	"github.com/ManuGH/phaselog/internal/validate"
)

// Validate checks the resolved configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, validate.LogLevels)
	v.OneOf("store.backend", cfg.Store.Backend, storage.Backends)
	switch cfg.Store.Backend {
	case storage.BackendBadger, storage.BackendBolt:
		v.NotEmpty("store.path", cfg.Store.Path)
	case storage.BackendRedis:
		v.NotEmpty("store.redis.addr", cfg.Store.Redis.Addr)
		v.Range("store.redis.db", cfg.Store.Redis.DB, 0, 15)
	}

	v.Custom("schedule", cfg.Schedule, func(any) error {
		return cfg.Schedule.Validate()
	})
	if len(cfg.Accept) == 0 {
		v.AddError("accept", "at least one event type is required", cfg.Accept)
	}
	for _, t := range cfg.Accept {
		if !isKnownType(t) {
			v.AddError("accept", "unknown event type", string(t))
		}
	}

	v.ListenAddr("api.listen", cfg.API.Listen)
	v.Positive("api.rateLimit", cfg.API.RateLimit)
	v.PositiveDuration("api.rateWindow", cfg.API.RateWindow)
	v.NonNegative("api.maxConns", cfg.API.MaxConns)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, telemetry.Exporters)
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Custom("telemetry.samplingRate", cfg.Telemetry.SamplingRate, func(any) error {
			if r := cfg.Telemetry.SamplingRate; r < 0 || r > 1 {
				return errors.New("must be between 0 and 1")
			}
			return nil
		})
	}

	return v.Err()
}
