package device

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Factory opens a fresh backend session.
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{
		CPUName:   func(cfg Config) (Backend, error) { return NewCPUBackend(cfg), nil },
		AccelName: func(cfg Config) (Backend, error) { return NewAccelBackend(cfg), nil },
		MLUName:   func(cfg Config) (Backend, error) { return NewAccelBackend(cfg), nil },
		MetalName: unavailable(MetalName),
		CUDAName:  unavailable(CUDAName),
	}
)

// Register binds a device id to a factory, replacing any existing binding.
func Register(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[strings.ToLower(id)] = f
}

// Open resolves a device id and opens a new session. Every call returns an independent backend,
// so concurrent cases never share device state.
func Open(id string, cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := factories[strings.ToLower(strings.TrimSpace(id))]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%q", id)
	}
	return f(cfg)
}

// IDs lists the registered device ids.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
