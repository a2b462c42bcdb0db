package notifier

import (
	"fmt"
	"sync"
)

// Factory builds a Notifier from its provider-specific configuration map.
type Factory func(config map[string]string) (Notifier, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory under the given name. Providers call
// this from init(), so a duplicate name is a programming error.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("notifier: provider %q registered twice", name))
	}
	registry[name] = factory
}

// New builds the named provider with the given configuration.
func New(name string, config map[string]string) (Notifier, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	return factory(config)
}

// Available lists the registered provider names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
