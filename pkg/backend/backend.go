// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the single contract every model backend is
// reached through, and the registry mapping backend ids to clients.
package backend

import (
	"context"
	"sort"
	"strings"
	"sync"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/llm"
)

// Request is one completion call.
type Request struct {
	SystemPrompt string
	UserText     string
	MaxTokens    int
	Temperature  float64
}

// Completion is the text a backend produced.
type Completion struct {
	Text  string
	Model string
	Usage llm.Usage
}

// Client completes a prompt on one backend. Implementations must honour
// ctx cancellation and be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Completion, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}

// Registry maps backend ids to clients. Ids are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register binds id to c, replacing any previous binding.
func (r *Registry) Register(id string, c Client) error {
	key := normalizeID(id)
	if key == "" {
		return cerrors.InvalidInput("backend id is required")
	}
	if c == nil {
		return cerrors.InvalidInput("backend client is nil").WithContext("backend", id)
	}
	r.mu.Lock()
	r.clients[key] = c
	r.mu.Unlock()
	return nil
}

// Get returns the client for id or a NOT_FOUND error.
func (r *Registry) Get(id string) (Client, error) {
	r.mu.RLock()
	c, ok := r.clients[normalizeID(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, cerrors.NotFound("backend", id)
	}
	return c, nil
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
