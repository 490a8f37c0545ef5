package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
)

// Factory constructs a TicketBackend from configuration.
type Factory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (TicketBackend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend implementation selectable by name. Implementations
// register themselves from init; the registry replaces the legacy
// dynamic-library plugin loading with a compile-time choice.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("backend %q registered twice", name))
	}
	registry[name] = factory
}

// Open constructs the named backend.
func Open(ctx context.Context, name string, cfg *config.Config, logger *zap.Logger) (TicketBackend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ticket backend %q (available: %v)", name, Names())
	}
	return factory(ctx, cfg, logger)
}

// Names lists the registered backends.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
