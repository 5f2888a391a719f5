package replay

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized is returned when a name is acquired twice.
var ErrAlreadyInitialized = errors.New("multiple replay instances are not supported")

// Registry guards against running more than one recorder per name.
type Registry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]bool)}
}

// Acquire claims name until release is called. Release is idempotent.
func (r *Registry) Acquire(name string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[name] {
		return nil, ErrAlreadyInitialized
	}
	r.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, name)
			r.mu.Unlock()
		})
	}, nil
}
