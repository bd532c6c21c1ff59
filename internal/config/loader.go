// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/sequencer"
	"github.com/ManuGH/phaselog/internal/storage"
	"github.com/ManuGH/phaselog/internal/telemetry"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PHASELOG_"

// Environment keys.
const (
	EnvLogLevel      = envPrefix + "LOG_LEVEL"
	EnvLogService    = envPrefix + "LOG_SERVICE"
	EnvStoreBackend  = envPrefix + "STORE_BACKEND"
	EnvStorePath     = envPrefix + "STORE_PATH"
	EnvRedisAddr     = envPrefix + "REDIS_ADDR"
	EnvRedisPassword = envPrefix + "REDIS_PASSWORD"
	EnvRedisDB       = envPrefix + "REDIS_DB"
	EnvRedisPrefix   = envPrefix + "REDIS_PREFIX"
	EnvGroup         = envPrefix + "GROUP"
	EnvSchedule      = envPrefix + "SCHEDULE"
	EnvAccept        = envPrefix + "ACCEPT"
	EnvAPIListen     = envPrefix + "API_LISTEN"
	EnvAPIRateLimit  = envPrefix + "API_RATE_LIMIT"
	EnvAPIRateWindow = envPrefix + "API_RATE_WINDOW"
	EnvAPIMaxConns   = envPrefix + "API_MAX_CONNS"

	EnvTracingEnabled      = envPrefix + "TRACING_ENABLED"
	EnvTracingExporter     = envPrefix + "TRACING_EXPORTER"
	EnvTracingEndpoint     = envPrefix + "TRACING_ENDPOINT"
	EnvTracingSamplingRate = envPrefix + "TRACING_SAMPLING_RATE"
	EnvTracingEnvironment  = envPrefix + "TRACING_ENVIRONMENT"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envLookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	v, ok := os.LookupEnv(key)
	return v, ok && strings.TrimSpace(v) != ""
}

// Load resolves defaults, then the file (strict), then the environment,
// and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	if err := l.mergeEnvConfig(&cfg); err != nil {
		return cfg, fmt.Errorf("merge env config: %w", err)
	}

	if cfg.Store.Path != "" {
		if abs, err := filepath.Abs(cfg.Store.Path); err == nil {
			cfg.Store.Path = abs
		}
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "phaselog",
		Store: StoreConfig{
			Backend: storage.BackendSQLite,
			Path:    "data",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "phaselog",
			},
		},
		Schedule: sequencer.Schedule{
			{Phase: "train", Quota: 2},
			{Phase: "test", Quota: 1},
		},
		Accept: []event.Type{event.TypeData},
		API: APIConfig{
			Listen:     ":8088",
			RateLimit:  100,
			RateWindow: time.Minute,
			MaxConns:   256,
		},
		Telemetry: TelemetryConfig{
			Exporter:     telemetry.ExporterGRPC,
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

// loadFile parses a YAML file strictly. Unknown fields fail the load.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data)
}

func decodeStrict(data []byte) (*FileConfig, error) {
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.LogService != "" {
		cfg.LogService = f.LogService
	}
	if f.Group != "" {
		cfg.Group = f.Group
	}
	if len(f.Schedule) > 0 {
		cfg.Schedule = append(sequencer.Schedule(nil), f.Schedule...)
	}
	if len(f.Accept) > 0 {
		accept, err := parseTypes(f.Accept)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		cfg.Accept = accept
	}

	if s := f.Store; s != nil {
		if s.Backend != "" {
			cfg.Store.Backend = s.Backend
		}
		if s.Path != "" {
			cfg.Store.Path = s.Path
		}
		if r := s.Redis; r != nil {
			if r.Addr != "" {
				cfg.Store.Redis.Addr = r.Addr
			}
			if r.Password != "" {
				cfg.Store.Redis.Password = r.Password
			}
			if r.DB != nil {
				cfg.Store.Redis.DB = *r.DB
			}
			if r.Prefix != "" {
				cfg.Store.Redis.Prefix = r.Prefix
			}
		}
	}

	if a := f.API; a != nil {
		if a.Listen != "" {
			cfg.API.Listen = a.Listen
		}
		if a.RateLimit != nil {
			cfg.API.RateLimit = *a.RateLimit
		}
		if a.RateWindow != "" {
			d, err := time.ParseDuration(a.RateWindow)
			if err != nil {
				return fmt.Errorf("api.rateWindow: %w", err)
			}
			cfg.API.RateWindow = d
		}
		if a.MaxConns != nil {
			cfg.API.MaxConns = *a.MaxConns
		}
	}

	if t := f.Telemetry; t != nil {
		if t.Enabled != nil {
			cfg.Telemetry.Enabled = *t.Enabled
		}
		if t.Exporter != "" {
			cfg.Telemetry.Exporter = t.Exporter
		}
		if t.Endpoint != "" {
			cfg.Telemetry.Endpoint = t.Endpoint
		}
		if t.SamplingRate != nil {
			cfg.Telemetry.SamplingRate = *t.SamplingRate
		}
		if t.Environment != "" {
			cfg.Telemetry.Environment = t.Environment
		}
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) error {
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.LogService = l.envString(EnvLogService, cfg.LogService)

	cfg.Store.Backend = l.envString(EnvStoreBackend, cfg.Store.Backend)
	cfg.Store.Path = l.envString(EnvStorePath, cfg.Store.Path)
	cfg.Store.Redis.Addr = l.envString(EnvRedisAddr, cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = l.envString(EnvRedisPassword, cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = l.envInt(EnvRedisDB, cfg.Store.Redis.DB)
	cfg.Store.Redis.Prefix = l.envString(EnvRedisPrefix, cfg.Store.Redis.Prefix)

	cfg.Group = l.envString(EnvGroup, cfg.Group)

	if v, ok := l.envLookup(EnvSchedule); ok {
		schedule, err := ParseSchedule(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSchedule, err)
		}
		cfg.Schedule = schedule
	}
	if v, ok := l.envLookup(EnvAccept); ok {
		accept, err := ParseAccept(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAccept, err)
		}
		cfg.Accept = accept
	}

	cfg.API.Listen = l.envString(EnvAPIListen, cfg.API.Listen)
	cfg.API.RateLimit = l.envInt(EnvAPIRateLimit, cfg.API.RateLimit)
	cfg.API.RateWindow = l.envDuration(EnvAPIRateWindow, cfg.API.RateWindow)
	cfg.API.MaxConns = l.envInt(EnvAPIMaxConns, cfg.API.MaxConns)

	cfg.Telemetry.Enabled = l.envBool(EnvTracingEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvTracingExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvTracingEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvTracingSamplingRate, cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString(EnvTracingEnvironment, cfg.Telemetry.Environment)
	return nil
}
