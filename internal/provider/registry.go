package provider

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

var validID = regexp.MustCompile(`^[a-z0-9-]+$`)

// Registry holds the providers the poller may call. A provider is only
// accepted once its id passes the contract check.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry registers ps in order and stops at the first rejected one.
func NewRegistry(ps ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p. Ids must match [a-z0-9-]+ and be unique.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return errors.New("registering provider: nil provider")
	}
	id := p.ID()
	if !validID.MatchString(id) {
		return fmt.Errorf("registering provider: invalid id %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.providers[id]; dup {
		return fmt.Errorf("registering provider: duplicate id %q", id)
	}
	r.providers[id] = p
	return nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns the registered providers ordered by id.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
