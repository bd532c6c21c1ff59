// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/sequencer"
	"github.com/ManuGH/phaselog/internal/storage"
	"github.com/ManuGH/phaselog/internal/storage/redis"
	"github.com/ManuGH/phaselog/internal/telemetry"
)

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	Version    string
	LogLevel   string
	LogService string

	Store StoreConfig

	// Group resumes an existing sequence log group. Empty starts a new one.
	Group    string
	Schedule sequencer.Schedule
	// Accept lists the event types the sequence log writer persists.
	Accept []event.Type

	API       APIConfig
	Telemetry TelemetryConfig
}

type StoreConfig struct {
	Backend string
	Path    string
	Redis   RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type APIConfig struct {
	Listen     string
	RateLimit  int
	RateWindow time.Duration
	MaxConns   int
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// StorageConfig converts the store section for storage.Open.
func (c AppConfig) StorageConfig() storage.Config {
	return storage.Config{
		Backend: c.Store.Backend,
		Path:    c.Store.Path,
		Redis: redis.Config{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Prefix:   c.Store.Redis.Prefix,
		},
	}
}

// TracingConfig converts the telemetry section for telemetry.NewProvider.
func (c AppConfig) TracingConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.LogService,
		ServiceVersion: c.Version,
		Environment:    c.Telemetry.Environment,
		Exporter:       c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}

// Accepts reports whether the writer should persist ev. Events that still
// carry an unordered phase never reach the log.
func (c AppConfig) Accepts(ev event.Event) bool {
	if ev.Phase.IsUnordered() {
		return false
	}
	for _, t := range c.Accept {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// FileConfig is the YAML document layout.
type FileConfig struct {
	LogLevel   string               `yaml:"logLevel,omitempty"`
	LogService string               `yaml:"logService,omitempty"`
	Store      *StoreFileConfig     `yaml:"store,omitempty"`
	Group      string               `yaml:"group,omitempty"`
	Schedule   []sequencer.Slot     `yaml:"schedule,omitempty"`
	Accept     []string             `yaml:"accept,omitempty"`
	API        *APIFileConfig       `yaml:"api,omitempty"`
	Telemetry  *TelemetryFileConfig `yaml:"telemetry,omitempty"`
}

type StoreFileConfig struct {
	Backend string           `yaml:"backend,omitempty"`
	Path    string           `yaml:"path,omitempty"`
	Redis   *RedisFileConfig `yaml:"redis,omitempty"`
}

type RedisFileConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       *int   `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type APIFileConfig struct {
	Listen     string `yaml:"listen,omitempty"`
	RateLimit  *int   `yaml:"rateLimit,omitempty"`
	RateWindow string `yaml:"rateWindow,omitempty"`
	MaxConns   *int   `yaml:"maxConns,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}
