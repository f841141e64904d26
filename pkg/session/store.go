package session

import (
	"context"
	"sync"

	cerrors "github.com/jllopis/conclave/pkg/errors"
)

// Store persists the per-session injection state. The set only ever grows
// for the lifetime of a session and is dropped with it.
type Store interface {
	// Injected returns the ids already disclosed in the session. Unknown
	// sessions yield an empty set.
	Injected(ctx context.Context, sessionID string) (IDSet, error)
	// MarkInjected unions ids into the session's set.
	MarkInjected(ctx context.Context, sessionID string, ids IDSet) error
	// Discard forgets the session.
	Discard(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]IDSet
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]IDSet)}
}

func (m *MemoryStore) Injected(_ context.Context, sessionID string) (IDSet, error) {
	if sessionID == "" {
		return IDSet{}, cerrors.InvalidInput("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID].Clone(), nil
}

func (m *MemoryStore) MarkInjected(_ context.Context, sessionID string, ids IDSet) error {
	if sessionID == "" {
		return cerrors.InvalidInput("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = m.sessions[sessionID].Union(ids)
	return nil
}

func (m *MemoryStore) Discard(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
