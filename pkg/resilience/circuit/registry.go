package circuit

import "sync"

// Registry holds one breaker per upstream model name, created lazily on
// first use. Registries are injected into the engine at construction so
// tests can use fresh instances without cross-test leakage.
type Registry struct {
	config   Config
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share config.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// ForModel returns the breaker for the given model, creating it if needed.
func (r *Registry) ForModel(model string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[model]
	if !ok {
		b = New(model, r.config)
		r.breakers[model] = b
	}
	return b
}

// Snapshots returns the observable state of every breaker, for health
// reporting. No upstream calls are made.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
