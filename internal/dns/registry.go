package dns

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Options are handed to a provider factory.
type Options struct {
	Settings map[string]string
	Timeout  time.Duration // per-request HTTP client timeout
}

// Factory is a constructor function that providers register to create themselves.
type Factory func(log logr.Logger, opts Options) (RecordStore, error)

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

// Register is called by provider packages in their init() to self-register.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("dns: provider %q already registered", name))
	}
	factories[name] = f
}

// Registered returns the sorted names of all registered providers.
func Registered() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRecordStore looks up the named provider in the registry and creates it.
func NewRecordStore(name string, log logr.Logger, opts Options) (RecordStore, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported DNS provider: %q (registered: %v)", name, Registered())
	}
	return f(log, opts)
}
