// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills holds skill records, the catalog they are served from, the
// SKILL.md loader, and the matcher that decides which skills a persona sees.
package skills

import (
	"context"
	"sort"
	"strings"
	"sync"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
)

// CategoryCouncil marks a skill as a Council Directive.
const CategoryCouncil = "council"

// Skill is a unit of supplementary instruction text.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// WhenToUse is the Tier-1 summary. Description is used when empty.
	WhenToUse string   `json:"when_to_use,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	// Trigger holds comma-separated phrases. Empty means always-on.
	Trigger string `json:"trigger,omitempty"`
	Body    string `json:"body"`
	// Scope lists persona ids (or names) that may see the skill.
	// Nil means global.
	Scope        []string `json:"scope,omitempty"`
	SortOrder    int      `json:"sort_order"`
	Version      int      `json:"version"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	// Dir is the skill directory for skills loaded from disk. Tier-3
	// resources live beneath it.
	Dir string `json:"-"`
}

// Global reports whether the skill is visible to every persona.
func (s Skill) Global() bool { return len(s.Scope) == 0 }

// Summary is the one-line Tier-1 text for the skill.
func (s Skill) Summary() string {
	if w := strings.TrimSpace(s.WhenToUse); w != "" {
		return oneLine(w)
	}
	return oneLine(s.Description)
}

// IsCouncil reports whether the skill is a Council Directive.
func (s Skill) IsCouncil() bool {
	return strings.EqualFold(strings.TrimSpace(s.Category), CategoryCouncil)
}

// VisibleTo reports whether p may see the skill. Scope entries match the
// persona id or its case-insensitive name.
func (s Skill) VisibleTo(p persona.Persona) bool {
	if s.Global() {
		return true
	}
	key := p.Key()
	for _, entry := range s.Scope {
		if entry == p.ID && p.ID != "" {
			return true
		}
		if key != "" && persona.NormalizeName(entry) == key {
			return true
		}
	}
	return false
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Filter narrows a catalog listing. The zero Filter returns every skill.
type Filter struct {
	// Persona restricts the result to skills it may see. Global skills are
	// included only when IncludeGlobal is set.
	Persona       *persona.Persona
	IncludeGlobal bool
	Categories    []string
}

// ForPersona returns the filter that lists every skill visible to p.
func ForPersona(p persona.Persona) Filter {
	return Filter{Persona: &p, IncludeGlobal: true}
}

// Match reports whether s passes the filter.
func (f Filter) Match(s Skill) bool {
	if len(f.Categories) > 0 {
		ok := false
		for _, c := range f.Categories {
			if strings.EqualFold(c, s.Category) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Persona == nil {
		return true
	}
	if s.Global() {
		return f.IncludeGlobal
	}
	return s.VisibleTo(*f.Persona)
}

// Catalog serves skill records. Implementations must be safe for
// concurrent readers.
type Catalog interface {
	Skills(ctx context.Context, f Filter) ([]Skill, error)
	// Get resolves a skill by id or case-insensitive name.
	Get(ctx context.Context, nameOrID string) (Skill, error)
}

// MemoryCatalog is an in-memory Catalog.
type MemoryCatalog struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewMemoryCatalog creates a catalog seeded with the given skills. Skills
// without an id use their name.
func NewMemoryCatalog(skills ...Skill) *MemoryCatalog {
	c := &MemoryCatalog{skills: make(map[string]Skill, len(skills))}
	for _, s := range skills {
		c.Put(s)
	}
	return c
}

// Put inserts or replaces a skill.
func (c *MemoryCatalog) Put(s Skill) Skill {
	s = normalize(s)
	c.mu.Lock()
	c.skills[s.ID] = s
	c.mu.Unlock()
	return s
}

// Remove deletes the skill with the given id.
func (c *MemoryCatalog) Remove(id string) {
	c.mu.Lock()
	delete(c.skills, id)
	c.mu.Unlock()
}

// Replace swaps the whole catalog content atomically.
func (c *MemoryCatalog) Replace(skills []Skill) {
	next := make(map[string]Skill, len(skills))
	for _, s := range skills {
		s = normalize(s)
		next[s.ID] = s
	}
	c.mu.Lock()
	c.skills = next
	c.mu.Unlock()
}

// Len returns the number of skills held.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.skills)
}

func (c *MemoryCatalog) Skills(_ context.Context, f Filter) ([]Skill, error) {
	c.mu.RLock()
	out := make([]Skill, 0, len(c.skills))
	for _, s := range c.skills {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) Get(_ context.Context, nameOrID string) (Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.skills[nameOrID]; ok {
		return s, nil
	}
	var found *Skill
	for id := range c.skills {
		s := c.skills[id]
		if !strings.EqualFold(s.Name, strings.TrimSpace(nameOrID)) {
			continue
		}
		// Lowest id wins when names collide.
		if found == nil || s.ID < found.ID {
			found = &s
		}
	}
	if found == nil {
		return Skill{}, cerrors.NotFound("skill", nameOrID)
	}
	return *found, nil
}

func normalize(s Skill) Skill {
	if s.ID == "" {
		s.ID = s.Name
	}
	s.Tags = append([]string(nil), s.Tags...)
	if len(s.Scope) > 0 {
		s.Scope = append([]string(nil), s.Scope...)
	} else {
		s.Scope = nil
	}
	s.AllowedTools = append([]string(nil), s.AllowedTools...)
	return s
}

var _ Catalog = (*MemoryCatalog)(nil)
