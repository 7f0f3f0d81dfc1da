package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPhaseAlreadyRegistered is returned when registering a duplicate phase.
	ErrPhaseAlreadyRegistered = errors.New("phase already registered")

	// ErrPhaseNotFound is returned for unknown phase names and dependencies.
	ErrPhaseNotFound = errors.New("phase not found")

	// ErrDependencyCycle is returned when phase dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrPhaseBlocked is returned by Ready when a dependency is incomplete.
	ErrPhaseBlocked = errors.New("phase dependencies incomplete")
)

// Registry holds the book phases and their dependencies.
type Registry struct {
	mu     sync.RWMutex
	phases map[string]Phase
	order  []string // registration order
}

// NewRegistry creates an empty phase registry.
func NewRegistry() *Registry {
	return &Registry{
		phases: make(map[string]Phase),
	}
}

// Register adds a phase. Names must be unique.
func (r *Registry) Register(p Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.phases[name]; exists {
		return fmt.Errorf("%w: %s", ErrPhaseAlreadyRegistered, name)
	}
	r.phases[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns a phase by name.
func (r *Registry) Get(name string) (Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.phases[name]
	return p, ok
}

// Names returns phase names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Ordered returns phases sorted so every phase follows its dependencies.
// Ties keep registration order.
func (r *Registry) Ordered() ([]Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

func (r *Registry) ordered() ([]Phase, error) {
	inDegree := make(map[string]int, len(r.order))
	for _, name := range r.order {
		for _, dep := range r.phases[name].Dependencies() {
			if _, ok := r.phases[dep]; !ok {
				return nil, fmt.Errorf("%w: phase %q depends on %q", ErrPhaseNotFound, name, dep)
			}
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range r.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var out []Phase
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, r.phases[name])

		for _, other := range r.order {
			for _, dep := range r.phases[other].Dependencies() {
				if dep != name {
					continue
				}
				inDegree[other]--
				if inDegree[other] == 0 {
					queue = append(queue, other)
				}
			}
		}
	}

	if len(out) != len(r.phases) {
		return nil, ErrDependencyCycle
	}
	return out, nil
}

// Validate checks that every dependency exists and there are no cycles.
func (r *Registry) Validate() error {
	_, err := r.Ordered()
	return err
}

// DependentsOf returns the phases that directly depend on name.
func (r *Registry) DependentsOf(name string) []Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Phase
	for _, other := range r.order {
		for _, dep := range r.phases[other].Dependencies() {
			if dep == name {
				out = append(out, r.phases[other])
				break
			}
		}
	}
	return out
}

// PhaseReport is one row of a book's workflow status.
type PhaseReport struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
	Complete     bool     `json:"complete"`
	Ready        bool     `json:"ready"`
	Data         any      `json:"data,omitempty"`
}

// Report evaluates every phase for a book in dependency order. A phase is
// ready when all of its dependencies are complete.
func (r *Registry) Report(ctx context.Context, bookID string) ([]PhaseReport, error) {
	ordered, err := r.Ordered()
	if err != nil {
		return nil, err
	}

	complete := make(map[string]bool, len(ordered))
	out := make([]PhaseReport, 0, len(ordered))
	for _, p := range ordered {
		st, err := p.Status(ctx, bookID)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.Name(), err)
		}
		ready := true
		for _, dep := range p.Dependencies() {
			ready = ready && complete[dep]
		}
		complete[p.Name()] = st.IsComplete()
		out = append(out, PhaseReport{
			Name:         p.Name(),
			Description:  p.Description(),
			Dependencies: p.Dependencies(),
			Complete:     st.IsComplete(),
			Ready:        ready,
			Data:         st.Data(),
		})
	}
	return out, nil
}

// Ready returns ErrPhaseBlocked when a dependency of name is incomplete.
func (r *Registry) Ready(ctx context.Context, bookID, name string) error {
	p, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPhaseNotFound, name)
	}
	for _, dep := range p.Dependencies() {
		d, ok := r.Get(dep)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPhaseNotFound, dep)
		}
		st, err := d.Status(ctx, bookID)
		if err != nil {
			return fmt.Errorf("phase %s: %w", dep, err)
		}
		if !st.IsComplete() {
			return fmt.Errorf("%w: %s needs %s", ErrPhaseBlocked, name, dep)
		}
	}
	return nil
}
