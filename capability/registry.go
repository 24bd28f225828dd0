package capability

import (
	"sort"
	"sync"

	"github.com/stratahq/strata/errors"
)

// Registry is a lookup table of published capabilities. Registration happens
// at startup (built-in catalog) or in tests; lookups dominate, so the lock is
// an RWMutex.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Capability
	latest map[string]*Capability // intent -> highest version
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Capability),
		latest: make(map[string]*Capability),
	}
}

// Register adds a capability to the registry. Capabilities are immutable once
// published: registering an id twice is an error.
func (r *Registry) Register(cap *Capability) error {
	if err := cap.Validate(); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[cap.ID]; exists {
		return errors.Wrapf(errors.ErrConflict, "capability %s already registered", cap.ID)
	}
	r.byID[cap.ID] = cap

	if current, ok := r.latest[cap.Intent]; !ok || cap.Version > current.Version {
		r.latest[cap.Intent] = cap
	}
	return nil
}

// Get returns the capability with the given id (intent:version).
func (r *Registry) Get(id string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cap, ok := r.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("unknown capability: %s", id)
	}
	return cap, nil
}

// Latest returns the highest registered version for an intent.
func (r *Registry) Latest(intent string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cap, ok := r.latest[intent]
	if !ok {
		return nil, errors.NewNotFoundError("unknown capability intent: %s", intent)
	}
	return cap, nil
}

// List returns all registered capabilities sorted by id.
func (r *Registry) List() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]*Capability, 0, len(r.byID))
	for _, cap := range r.byID {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].ID < caps[j].ID })
	return caps
}
