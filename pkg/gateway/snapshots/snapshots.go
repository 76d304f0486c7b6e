// Package snapshots persists the opaque canvas document each identity last
// synced, so a reconnecting client can restore its board.
package snapshots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads one canvas document per identity.
type Store interface {
	Load(ctx context.Context, identity string) (json.RawMessage, error)
	Save(ctx context.Context, identity string, snapshot json.RawMessage) error
}

// MemoryStore keeps documents in process memory. It is the default when no
// database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Load(_ context.Context, identity string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[strings.TrimSpace(identity)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(doc), nil
}

func (m *MemoryStore) Save(_ context.Context, identity string, snapshot json.RawMessage) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("identity is required")
	}
	if !json.Valid(snapshot) {
		return errors.New("snapshot is not valid json")
	}
	m.mu.Lock()
	m.docs[identity] = bytes.Clone(snapshot)
	m.mu.Unlock()
	return nil
}
