package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type held struct {
	token   string
	expires time.Time
}

// Memory is an in-process Service for tests and single-process runs.
type Memory struct {
	mu   sync.Mutex
	keys map[string]held
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]held), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.keys[key]; ok && m.now().Before(h.expires) {
		return Lease{}, false, nil
	}
	l := Lease{Key: key, Token: uuid.NewString()}
	m.keys[key] = held{token: l.Token, expires: m.now().Add(ttl)}
	return l, true, nil
}

func (m *Memory) Release(_ context.Context, l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.keys[l.Key]; ok && h.token == l.Token {
		delete(m.keys, l.Key)
	}
	return nil
}

func (m *Memory) Extend(_ context.Context, l Lease, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.keys[l.Key]
	if !ok || h.token != l.Token || !m.now().Before(h.expires) {
		return ErrNotHeld
	}
	h.expires = m.now().Add(ttl)
	m.keys[l.Key] = h
	return nil
}

// Held reports whether key is currently leased by anyone.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.keys[key]
	return ok && m.now().Before(h.expires)
}
