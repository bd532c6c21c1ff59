// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ManuGH/phaselog/internal/log"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteDefault when the target already exists.
var ErrConfigExists = errors.New("config file already exists")

// Manager persists configuration files.
type Manager struct {
	configPath string
}

func NewManager(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// Save writes cfg as YAML, atomically replacing any existing file.
func (m *Manager) Save(cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0750); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ToFileConfig(cfg)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(m.configPath, renameio.WithPermissions(0600))
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger := log.WithComponent("config")
			logger.Debug().Err(err).Msg("cleanup pending config file")
		}
	}()

	if _, err := pendingFile.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write config data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace config file: %w", err)
	}
	return nil
}

// WriteDefault writes the built-in defaults to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}
	return NewManager(path).Save(Defaults())
}

// ToFileConfig maps the resolved configuration back to its YAML layout.
func ToFileConfig(cfg AppConfig) FileConfig {
	db := cfg.Store.Redis.DB
	rateLimit := cfg.API.RateLimit
	maxConns := cfg.API.MaxConns
	tracing := cfg.Telemetry.Enabled
	sampling := cfg.Telemetry.SamplingRate

	accept := make([]string, len(cfg.Accept))
	for i, t := range cfg.Accept {
		accept[i] = string(t)
	}

	return FileConfig{
		LogLevel:   cfg.LogLevel,
		LogService: cfg.LogService,
		Store: &StoreFileConfig{
			Backend: cfg.Store.Backend,
			Path:    cfg.Store.Path,
			Redis: &RedisFileConfig{
				Addr:     cfg.Store.Redis.Addr,
				Password: cfg.Store.Redis.Password,
				DB:       &db,
				Prefix:   cfg.Store.Redis.Prefix,
			},
		},
		Group:    cfg.Group,
		Schedule: cfg.Schedule,
		Accept:   accept,
		API: &APIFileConfig{
			Listen:     cfg.API.Listen,
			RateLimit:  &rateLimit,
			RateWindow: cfg.API.RateWindow.String(),
			MaxConns:   &maxConns,
		},
		Telemetry: &TelemetryFileConfig{
			Enabled:      &tracing,
			Exporter:     cfg.Telemetry.Exporter,
			Endpoint:     cfg.Telemetry.Endpoint,
			SamplingRate: &sampling,
			Environment:  cfg.Telemetry.Environment,
		},
	}
}
