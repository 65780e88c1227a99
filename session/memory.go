package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. Suitable for tests and
// single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]string
}

// NewMemoryStore returns an empty in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]map[string]string{}}
}

// Load returns the session for id, or a fresh empty session under a new
// identifier when id is empty or unknown.
func (s *MemoryStore) Load(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if values, ok := s.sessions[id]; ok {
			return &memorySession{store: s, id: id, values: cloneValues(values)}, nil
		}
	}
	return &memorySession{store: s, id: uuid.NewString(), values: map[string]string{}}, nil
}

type memorySession struct {
	store  *MemoryStore
	id     string
	oldID  string
	values map[string]string
}

func (m *memorySession) ID() string { return m.id }

func (m *memorySession) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memorySession) Set(key, value string) { m.values[key] = value }

func (m *memorySession) Delete(key string) { delete(m.values, key) }

func (m *memorySession) Renew() error {
	if m.oldID == "" {
		m.oldID = m.id
	}
	m.id = uuid.NewString()
	return nil
}

func (m *memorySession) Save(ctx context.Context) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if m.oldID != "" && m.oldID != m.id {
		delete(m.store.sessions, m.oldID)
		m.oldID = ""
	}
	m.store.sessions[m.id] = cloneValues(m.values)
	return nil
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
