package subagent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"sync"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/skills"
)

// Cache keeps built specs per session and rebuilds them only when the
// personas, their visible skills or the tool allow-lists change.
type Cache struct {
	factory *Factory
	catalog skills.Catalog

	mu      sync.Mutex
	entries map[string]cacheEntry
	builds  int
}

type cacheEntry struct {
	fingerprint string
	specs       map[string]Spec
}

// NewCache creates a cache over factory. catalog is read to detect skill
// changes.
func NewCache(factory *Factory, catalog skills.Catalog) *Cache {
	return &Cache{factory: factory, catalog: catalog, entries: make(map[string]cacheEntry)}
}

// Get returns the session's specs, building them when the inputs changed.
// The returned map is a copy; changing it does not affect the cache.
func (c *Cache) Get(ctx context.Context, sessionID string, personas []persona.Persona, tools map[string][]string) (map[string]Spec, error) {
	if sessionID == "" {
		return nil, cerrors.InvalidInput("session id is required")
	}
	fp, err := c.inputFingerprint(ctx, personas, tools)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sessionID]; ok && e.fingerprint == fp {
		return cloneSpecs(e.specs), nil
	}
	specs, err := c.factory.Build(ctx, personas, tools)
	if err != nil {
		return nil, err
	}
	c.builds++
	c.entries[sessionID] = cacheEntry{fingerprint: fp, specs: specs}
	return cloneSpecs(specs), nil
}

func cloneSpecs(in map[string]Spec) map[string]Spec {
	out := maps.Clone(in)
	for k, s := range out {
		s.Tools = slices.Clone(s.Tools)
		out[k] = s
	}
	return out
}

// Drop forgets one session.
func (c *Cache) Drop(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// Invalidate forgets every session.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Builds returns how many times the factory has been run.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

type fingerprintInput struct {
	Personas []persona.Persona   `json:"personas"`
	Skills   [][]skills.Skill    `json:"skills"`
	Tools    map[string][]string `json:"tools"`
}

func (c *Cache) inputFingerprint(ctx context.Context, personas []persona.Persona, tools map[string][]string) (string, error) {
	in := fingerprintInput{Personas: personas, Tools: tools}
	for _, p := range personas {
		visible, err := c.catalog.Skills(ctx, skills.ForPersona(p))
		if err != nil {
			return "", cerrors.New(cerrors.CodeStoreError, "list skills", err).WithContext("persona", p.Name)
		}
		visible = skills.Visible(visible, p)
		sort.Slice(visible, func(i, j int) bool { return visible[i].ID < visible[j].ID })
		in.Skills = append(in.Skills, visible)
	}
	// encoding/json sorts map keys, so the encoding is stable.
	data, err := json.Marshal(in)
	if err != nil {
		return "", cerrors.New(cerrors.CodeInternal, "fingerprint subagent inputs", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
