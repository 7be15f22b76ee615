package campaign

import (
	"sync"

	"github.com/cadencehq/cadence/id"
)

// Registry holds registered campaign definitions keyed by campaign ID.
// Registration validates the definition; re-registering the same ID
// replaces the previous version.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty campaign registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates and stores a definition.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.defs[def.ID.String()] = def
	return nil
}

// Get returns the definition for the given campaign ID.
func (r *Registry) Get(campaignID id.CampaignID) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[campaignID.String()]
	return def, ok
}

// List returns all registered definitions in unspecified order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}
