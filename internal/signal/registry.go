package signal

import (
	"sync"

	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

// Builder constructs a policy instance from one mode's knobs.
type Builder func(mode config.ModeConfig) Policy

// Registry manages the available entry-policy builders.
type Registry interface {
	Register(name string, builder Builder) error
	Build(name string, mode config.ModeConfig) (Policy, error)
	List() []string
	Remove(name string) error
}

// RegistryV1 manages the available entry-policy builders.
type RegistryV1 struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

// NewRegistry creates a new policy registry.
func NewRegistry() Registry {
	return &RegistryV1{
		builders: make(map[string]Builder),
		mu:       sync.RWMutex{},
	}
}

// defaultRegistry serves the built-in policies the engine composes from.
var defaultRegistry = func() Registry {
	r := NewRegistry()

	_ = r.Register("parity_run", func(mode config.ModeConfig) Policy {
		return NewParityRun(mode.RunLength)
	})
	_ = r.Register("momentum", func(mode config.ModeConfig) Policy {
		return NewMomentum(mode.MomentumLength, mode.MomentumMinDelta, mode.MomentumSMAPeriod)
	})

	return r
}()

// Register adds a policy builder to the registry.
func (r *RegistryV1) Register(name string, builder Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[name]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "Register: policy with name %s already registered", name)
	}

	r.builders[name] = builder

	return nil
}

// Build constructs the named policy for a mode configuration.
func (r *RegistryV1) Build(name string, mode config.ModeConfig) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	builder, exists := r.builders[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeInvalidMode, "Build: unknown policy %q", name)
	}

	return builder(mode), nil
}

// List returns the names of all registered policies.
func (r *RegistryV1) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}

	return names
}

// Remove deletes a policy builder from the registry.
func (r *RegistryV1) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[name]; !exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "Remove: policy with name %s not found", name)
	}

	delete(r.builders, name)

	return nil
}
