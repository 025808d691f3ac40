package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/facegate/internal/config"
)

// Opener creates a Store for a database configuration.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (Store, error)

var (
	backends   = make(map[string]Opener)
	backendsMu sync.RWMutex
)

// RegisterBackend registers a storage backend constructor under a driver name.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(driver string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[driver] = open
}

// Drivers returns the registered backend names.
func Drivers() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database backend %q not registered (available: %v)", cfg.Driver, Drivers())
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Driver, err)
	}
	return store, nil
}
