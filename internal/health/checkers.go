// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Pinger is implemented by stores with a native liveness probe.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Lister is the fallback probe: a store that can list its groups is up.
type Lister interface {
	Groups(ctx context.Context) ([]string, error)
}

// StoreChecker probes the sequence log backend.
type StoreChecker struct {
	store Lister
}

func NewStoreChecker(store Lister) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) Name() string { return "store" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	var err error
	if p, ok := c.store.(Pinger); ok {
		err = p.HealthCheck(ctx)
	} else {
		_, err = c.store.Groups(ctx)
	}
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "store unavailable", Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// DirChecker verifies that a data directory exists and is writable.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured"}
	}
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

var errNotDir = errors.New("not a directory")

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", path, errNotDir)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(probe)
	return nil
}
