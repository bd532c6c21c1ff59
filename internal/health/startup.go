// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/phaselog/internal/config"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/storage"
)

// PerformStartupChecks prepares and probes the environment before a command
// opens its store. File backends get their data directory created.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	switch cfg.Store.Backend {
	case storage.BackendRedis, storage.BackendMemory:
		logger.Debug().Str(log.FieldBackend, cfg.Store.Backend).Msg("no data directory to check")
		return nil
	}
	dir := cfg.Store.Path
	if dir == "" {
		return nil
	}
	// a sqlite path with an extension names the database file itself
	if cfg.Store.Backend == storage.BackendSQLite && filepath.Ext(dir) != "" {
		dir = filepath.Dir(dir)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := checkWritableDir(dir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Debug().Str("path", dir).Msg("data directory is writable")
	return nil
}
