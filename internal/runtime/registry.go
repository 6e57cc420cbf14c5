package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

var _ ports.Runner = (*Registry)(nil)

// Registry wires backend modules into a single Engine implementation.
//
// Submissions are routed by their Backend field, falling back to the
// registry default. The language hint never takes part in routing.
type Registry struct {
	mu       sync.RWMutex
	modules  map[Kind]Module
	fallback Kind
}

// NewRegistry constructs a registry from the supplied modules. The first
// module becomes the default backend.
func NewRegistry(mods ...Module) (*Registry, error) {
	reg := &Registry{
		modules: make(map[Kind]Module, len(mods)),
	}

	for _, module := range mods {
		if module == nil {
			return nil, fmt.Errorf("runtime module cannot be nil")
		}

		kind := module.Kind()
		if kind == "" {
			return nil, fmt.Errorf("runtime module missing kind identifier")
		}
		if _, exists := reg.modules[kind]; exists {
			return nil, fmt.Errorf("duplicate runtime module for backend %q", kind)
		}

		reg.modules[kind] = module
		if reg.fallback == "" {
			reg.fallback = kind
		}
	}

	if len(reg.modules) == 0 {
		return nil, fmt.Errorf("at least one runtime module must be registered")
	}

	return reg, nil
}

// SetDefault selects the backend used by submissions that do not name one.
func (r *Registry) SetDefault(kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[kind]; !ok {
		return fmt.Errorf("no runtime module registered for backend %q", kind)
	}
	r.fallback = kind
	return nil
}

// Prepare dispatches the request to the module responsible for the submission.
func (r *Registry) Prepare(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
	module, err := r.moduleFor(Kind(submission.Backend))
	if err != nil {
		return nil, err
	}
	return module.Prepare(ctx, submission)
}

// Close releases resources held by each module.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for kind, module := range r.modules {
		if err := module.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (r *Registry) moduleFor(kind Kind) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if kind == "" {
		kind = r.fallback
	}
	module, ok := r.modules[kind]
	if !ok {
		return nil, fmt.Errorf("no runtime module registered for backend %q", kind)
	}
	return module, nil
}
