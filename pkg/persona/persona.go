// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package persona holds persona records and the read-only registry the
// composer and dispatcher resolve them through.
package persona

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cerrors "github.com/jllopis/conclave/pkg/errors"
)

// Persona is a named reasoning style with its own instructions and the set
// of backends it may be queried through.
type Persona struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
	Color       string `json:"color,omitempty" yaml:"color"`

	// Instructions are appended to every system prompt built for the persona.
	Instructions    string   `json:"instructions,omitempty" yaml:"instructions"`
	AllowedBackends []string `json:"allowed_backends,omitempty" yaml:"allowed_backends"`
	CanOrchestrate  bool     `json:"can_orchestrate" yaml:"can_orchestrate"`

	DefaultBackend     string  `json:"default_backend,omitempty" yaml:"default_backend"`
	DefaultMaxTokens   int     `json:"default_max_tokens,omitempty" yaml:"default_max_tokens"`
	DefaultTemperature float64 `json:"default_temperature,omitempty" yaml:"default_temperature"`

	SortOrder int        `json:"sort_order" yaml:"sort_order"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" yaml:"-"`
}

// Deleted reports whether the persona has been soft-deleted.
func (p Persona) Deleted() bool { return p.DeletedAt != nil }

// Key is the normalized name used for case-insensitive lookup and as the
// sub-agent invocation key.
func (p Persona) Key() string { return NormalizeName(p.Name) }

// AllowsBackend reports whether the persona may be queried through the
// given backend. An empty allow-list admits every backend.
func (p Persona) AllowsBackend(backendID string) bool {
	if len(p.AllowedBackends) == 0 {
		return true
	}
	for _, b := range p.AllowedBackends {
		if strings.EqualFold(b, backendID) {
			return true
		}
	}
	return false
}

// NormalizeName lowercases and trims a persona name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewID returns a fresh persona id.
func NewID() string { return uuid.NewString() }

// Registry resolves personas. Implementations must be safe for concurrent
// readers.
type Registry interface {
	// Get resolves a persona by id or case-insensitive name. Unknown and
	// soft-deleted personas yield a NOT_FOUND error.
	Get(ctx context.Context, nameOrID string) (Persona, error)
	// All returns live personas ordered by sort order, then name.
	All(ctx context.Context) ([]Persona, error)
}

// Sort orders personas by sort order, then name, then id.
func Sort(ps []Persona) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].SortOrder != ps[j].SortOrder {
			return ps[i].SortOrder < ps[j].SortOrder
		}
		if ni, nj := ps[i].Key(), ps[j].Key(); ni != nj {
			return ni < nj
		}
		return ps[i].ID < ps[j].ID
	})
}

// MemoryRegistry is an in-memory Registry.
type MemoryRegistry struct {
	mu   sync.RWMutex
	byID map[string]Persona
}

// NewMemoryRegistry builds a registry seeded with the given personas.
// Personas without an id are assigned one.
func NewMemoryRegistry(ps ...Persona) *MemoryRegistry {
	r := &MemoryRegistry{byID: make(map[string]Persona, len(ps))}
	for _, p := range ps {
		r.Put(p)
	}
	return r
}

// Put inserts or replaces a persona and returns the stored record.
func (r *MemoryRegistry) Put(p Persona) Persona {
	if p.ID == "" {
		p.ID = NewID()
	}
	p.AllowedBackends = append([]string(nil), p.AllowedBackends...)
	r.mu.Lock()
	r.byID[p.ID] = p
	r.mu.Unlock()
	return p
}

// SoftDelete marks the persona deleted. It stops resolving by name but
// remains reachable through GetIncludingDeleted.
func (r *MemoryRegistry) SoftDelete(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return cerrors.NotFound("persona", id)
	}
	p.DeletedAt = &at
	r.byID[id] = p
	return nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, nameOrID string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byID[nameOrID]; ok && !p.Deleted() {
		return p, nil
	}
	key := NormalizeName(nameOrID)
	for _, p := range r.byID {
		if !p.Deleted() && p.Key() == key {
			return p, nil
		}
	}
	return Persona{}, cerrors.NotFound("persona", nameOrID)
}

// GetIncludingDeleted resolves a persona by id regardless of soft deletion.
func (r *MemoryRegistry) GetIncludingDeleted(_ context.Context, id string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Persona{}, cerrors.NotFound("persona", id)
	}
	return p, nil
}

// All implements Registry.
func (r *MemoryRegistry) All(_ context.Context) ([]Persona, error) {
	r.mu.RLock()
	out := make([]Persona, 0, len(r.byID))
	for _, p := range r.byID {
		if !p.Deleted() {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()
	Sort(out)
	return out, nil
}

var _ Registry = (*MemoryRegistry)(nil)
