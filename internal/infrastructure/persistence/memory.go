// Package persistence implements the persistence collaborator (spec §6):
// the durable KVStore and EventLog ports every stateful component writes
// through. MemoryStore is the zero-dependency default (single-process,
// lost on restart); Postgres is the durable option for real deployments.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/arbor-run/trust-core/internal/domain"
)

// MemoryStore is an in-memory domain.KVStore, namespaced by store name.
// Grounded on the in-memory-map-plus-mutex idiom used throughout this
// module's stateful components (profilestore, eventstore, capability).
type MemoryStore struct {
	mu     sync.RWMutex
	stores map[string]map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stores: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) bucket(storeName string) map[string][]byte {
	b, ok := m.stores[storeName]
	if !ok {
		b = make(map[string][]byte)
		m.stores[storeName] = b
	}
	return b
}

func (m *MemoryStore) Put(_ context.Context, storeName, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.bucket(storeName)[key] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, storeName, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.stores[storeName][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemoryStore) Delete(_ context.Context, storeName, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores[storeName], key)
	return nil
}

func (m *MemoryStore) ListKeys(_ context.Context, storeName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.stores[storeName]))
	for k := range m.stores[storeName] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryStore) Exists(_ context.Context, storeName, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[storeName][key]
	return ok, nil
}

var _ domain.KVStore = (*MemoryStore)(nil)

// MemoryLog is an in-memory domain.EventLog, append-only per stream with
// exactly-once enforcement on (stream_id, event_id) (spec §6).
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]*domain.DurableEvent
	seen    map[string]struct{} // streamID + "\x00" + id
}

// NewMemoryLog builds an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string][]*domain.DurableEvent),
		seen:    make(map[string]struct{}),
	}
}

func (l *MemoryLog) Append(_ context.Context, streamID string, event *domain.DurableEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dedupeKey := streamID + "\x00" + event.ID
	if _, ok := l.seen[dedupeKey]; ok {
		return domain.ErrAlreadyExists
	}
	l.seen[dedupeKey] = struct{}{}
	cp := *event
	l.streams[streamID] = append(l.streams[streamID], &cp)
	return nil
}

func (l *MemoryLog) ReadStream(_ context.Context, streamID string) ([]*domain.DurableEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.DurableEvent, len(l.streams[streamID]))
	copy(out, l.streams[streamID])
	return out, nil
}

func (l *MemoryLog) ReadAll(_ context.Context) ([]*domain.DurableEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*domain.DurableEvent
	for _, events := range l.streams {
		out = append(out, events...)
	}
	return out, nil
}

func (l *MemoryLog) Version(_ context.Context, streamID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.streams[streamID])), nil
}

var _ domain.EventLog = (*MemoryLog)(nil)

// MemoryCapabilityRepo is an in-memory domain.CapabilityRepository.
type MemoryCapabilityRepo struct {
	mu   sync.RWMutex
	caps map[string]*domain.Capability
}

// NewMemoryCapabilityRepo builds an empty MemoryCapabilityRepo.
func NewMemoryCapabilityRepo() *MemoryCapabilityRepo {
	return &MemoryCapabilityRepo{caps: make(map[string]*domain.Capability)}
}

func (r *MemoryCapabilityRepo) Put(cap *domain.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cap
	r.caps[cap.ID] = &cp
	return nil
}

func (r *MemoryCapabilityRepo) Get(id string) (*domain.Capability, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	return c, ok, nil
}

func (r *MemoryCapabilityRepo) ListByPrincipal(principalID string) ([]*domain.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Capability
	for _, c := range r.caps {
		if c.PrincipalID == principalID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryCapabilityRepo) ListActiveByPrincipal(principalID string, now time.Time) ([]*domain.Capability, error) {
	all, _ := r.ListByPrincipal(principalID)
	var out []*domain.Capability
	for _, c := range all {
		if c.Active(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryCapabilityRepo) Revoke(id string, revokedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caps[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.RevokedAt = &revokedAt
	return nil
}

func (r *MemoryCapabilityRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, id)
	return nil
}

var _ domain.CapabilityRepository = (*MemoryCapabilityRepo)(nil)

// MemoryConfirmationRepo is an in-memory domain.ConfirmationRepository.
type MemoryConfirmationRepo struct {
	mu      sync.RWMutex
	entries map[string]*domain.ConfirmationEntry // agentID + "\x00" + bundle
}

// NewMemoryConfirmationRepo builds an empty MemoryConfirmationRepo.
func NewMemoryConfirmationRepo() *MemoryConfirmationRepo {
	return &MemoryConfirmationRepo{entries: make(map[string]*domain.ConfirmationEntry)}
}

func confirmationKey(agentID string, bundle domain.Bundle) string {
	return agentID + "\x00" + string(bundle)
}

func (r *MemoryConfirmationRepo) Get(agentID string, bundle domain.Bundle) (*domain.ConfirmationEntry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[confirmationKey(agentID, bundle)]
	return e, ok, nil
}

func (r *MemoryConfirmationRepo) Put(entry *domain.ConfirmationEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[confirmationKey(entry.AgentID, entry.Bundle)] = &cp
	return nil
}

func (r *MemoryConfirmationRepo) ListByAgent(agentID string) ([]*domain.ConfirmationEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ConfirmationEntry
	for k, e := range r.entries {
		if len(k) > len(agentID) && k[:len(agentID)] == agentID && k[len(agentID)] == '\x00' {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryConfirmationRepo) DeleteByAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if len(k) > len(agentID) && k[:len(agentID)] == agentID && k[len(agentID)] == '\x00' {
			delete(r.entries, k)
		}
	}
	return nil
}

var _ domain.ConfirmationRepository = (*MemoryConfirmationRepo)(nil)
