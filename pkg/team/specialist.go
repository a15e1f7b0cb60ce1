package team

import (
	"context"
	"fmt"
	"sort"
)

// DefaultSelfRetries is the number of additional self-invocations a
// specialist may request via NeedsRetry before the engine treats the
// situation as a normal failure.
const DefaultSelfRetries = 2

// UnitOfWork is one specialist invocation: read the current state, return a
// partial update or an error. The engine never calls specialists
// concurrently within a turn.
type UnitOfWork func(ctx context.Context, st *State) (Delta, error)

// Specialist is one named unit of domain-specific work.
type Specialist struct {
	Name  string
	Model string // Upstream model identity, used for circuit breaker scoping
	Run   UnitOfWork

	// Cacheable is false for specialists whose work has side effects
	// (writing files, running commands); those never touch the cache.
	Cacheable bool

	// SelfRetries bounds NeedsRetry self-loops. Zero means DefaultSelfRetries.
	SelfRetries int

	// Handoffs lists the specialists this one may transfer control to
	// directly. Validated at registry construction and enforced by the
	// engine on every transfer.
	Handoffs []string

	// Fallback is the human-readable template used when the specialist's
	// work fails after retry exhaustion.
	Fallback string
}

// CanHandOff reports whether target is on this specialist's handoff
// allowlist. The router and terminal sentinels are control-flow targets,
// not handoffs, and are resolved by the engine before this check.
func (s *Specialist) CanHandOff(target string) bool {
	for _, name := range s.Handoffs {
		if name == target {
			return true
		}
	}
	return false
}

// MaxSelfRetries returns the effective self-retry budget.
func (s *Specialist) MaxSelfRetries() int {
	if s.SelfRetries > 0 {
		return s.SelfRetries
	}
	return DefaultSelfRetries
}

// Registry is the validated, immutable set of specialists for an engine
// instance. Construct one per engine; there are no package-level registries.
type Registry struct {
	byName map[string]*Specialist
	names  []string
}

// NewRegistry validates the specialist set and builds a registry.
// Every handoff target must name a registered specialist (or the router),
// so misroutes from typos fail at startup instead of mid-turn.
func NewRegistry(specialists ...*Specialist) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Specialist, len(specialists))}

	for _, sp := range specialists {
		if sp == nil {
			return nil, fmt.Errorf("nil specialist in registry")
		}
		if sp.Name == "" {
			return nil, fmt.Errorf("specialist with empty name")
		}
		if sp.Name == RouterName || sp.Name == Terminal {
			return nil, fmt.Errorf("specialist name %q is reserved", sp.Name)
		}
		if sp.Run == nil {
			return nil, fmt.Errorf("specialist %q has no unit of work", sp.Name)
		}
		if _, dup := r.byName[sp.Name]; dup {
			return nil, fmt.Errorf("duplicate specialist name %q", sp.Name)
		}
		r.byName[sp.Name] = sp
		r.names = append(r.names, sp.Name)
	}

	// Handoff targets are checked after all names are known.
	for _, sp := range specialists {
		for _, target := range sp.Handoffs {
			if target == RouterName || target == Terminal {
				continue
			}
			if _, ok := r.byName[target]; !ok {
				return nil, fmt.Errorf("specialist %q declares handoff to unknown specialist %q", sp.Name, target)
			}
		}
	}

	sort.Strings(r.names)
	return r, nil
}

// Get returns the named specialist, or nil if unknown.
func (r *Registry) Get(name string) *Specialist {
	return r.byName[name]
}

// Has reports whether the name is a registered specialist.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns the sorted specialist names.
func (r *Registry) Names() []string {
	return append([]string{}, r.names...)
}
