package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/walletops/internal/clock"
)

type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	records map[string]Record
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryStore{clock: c, records: make(map[string]Record)}
}

func memoryKey(scope, key string) string {
	return scope + "\x00" + key
}

func (m *MemoryStore) Reserve(_ context.Context, scope, key string, expiresAt time.Time) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(scope, key)
	if rec, ok := m.records[k]; ok && rec.ExpiresAt.After(m.clock.Now()) {
		return &rec, false, nil
	}
	m.records[k] = Record{Scope: scope, Key: key, State: StateInProgress, ExpiresAt: expiresAt}
	return nil, true, nil
}

func (m *MemoryStore) Complete(_ context.Context, scope, key string, resp Response, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[memoryKey(scope, key)] = Record{
		Scope:       scope,
		Key:         key,
		State:       StateCompleted,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        append([]byte(nil), resp.Body...),
		ExpiresAt:   expiresAt,
	}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memoryKey(scope, key))
	return nil
}
