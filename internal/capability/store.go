package capability

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-run/trust-core/internal/domain"
)

// Store is the Capability Store (spec §4.6.2): the durable record of every
// capability grant, keyed by ID, with a per-principal index for listing and
// bulk revocation. Grants/revokes for a given principal are serialized
// (spec §5), matching profilestore.Store's per-agent-mutex idiom.
type Store struct {
	backend domain.CapabilityRepository

	mu      sync.RWMutex
	byID    map[string]*domain.Capability
	byOwner map[string]map[string]struct{} // principal_id -> set of capability ids

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Store. backend, if non-nil, durably mirrors every grant and
// revoke; the in-memory index is authoritative for reads.
func New(backend domain.CapabilityRepository) *Store {
	return &Store{
		backend: backend,
		byID:    make(map[string]*domain.Capability),
		byOwner: make(map[string]map[string]struct{}),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(principalID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[principalID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[principalID] = l
	}
	return l
}

// Grant issues a new capability, assigning an ID if cap.ID is empty.
func (s *Store) Grant(cap *domain.Capability) (*domain.Capability, error) {
	lock := s.lockFor(cap.PrincipalID)
	lock.Lock()
	defer lock.Unlock()

	if cap.ID == "" {
		cap.ID = uuid.NewString()
	}
	if cap.IssuedAt.IsZero() {
		cap.IssuedAt = time.Now()
	}

	if s.backend != nil {
		if err := s.backend.Put(cap); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.byID[cap.ID] = cap
	if s.byOwner[cap.PrincipalID] == nil {
		s.byOwner[cap.PrincipalID] = make(map[string]struct{})
	}
	s.byOwner[cap.PrincipalID][cap.ID] = struct{}{}
	s.mu.Unlock()

	return cap, nil
}

// Get returns a capability by ID.
func (s *Store) Get(id string) (*domain.Capability, error) {
	s.mu.RLock()
	c, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	if s.backend == nil {
		return nil, domain.ErrNotFound
	}
	c, found, err := s.backend.Get(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

// ListActive returns a principal's non-revoked, non-expired capabilities.
func (s *Store) ListActive(principalID string, now time.Time) []*domain.Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[principalID]
	out := make([]*domain.Capability, 0, len(ids))
	for id := range ids {
		c := s.byID[id]
		if c != nil && c.Active(now) {
			out = append(out, c)
		}
	}
	return out
}

// Revoke marks a capability revoked.
func (s *Store) Revoke(id string, now time.Time) error {
	s.mu.RLock()
	c, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	lock := s.lockFor(c.PrincipalID)
	lock.Lock()
	defer lock.Unlock()

	if s.backend != nil {
		if err := s.backend.Revoke(id, now); err != nil {
			return err
		}
	}
	s.mu.Lock()
	c.RevokedAt = &now
	s.mu.Unlock()
	return nil
}

// RevokeBySource revokes every active capability a principal holds from the
// given source (spec §4.6.2 sync_capabilities: "bulk-revoke agent's
// trust-sourced caps"). Returns the count revoked.
func (s *Store) RevokeBySource(principalID string, source domain.CapabilitySource, now time.Time) (int, error) {
	lock := s.lockFor(principalID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	ids := s.byOwner[principalID]
	var toRevoke []*domain.Capability
	for id := range ids {
		c := s.byID[id]
		if c != nil && c.Source == source && c.Active(now) {
			toRevoke = append(toRevoke, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range toRevoke {
		if s.backend != nil {
			if err := s.backend.Revoke(c.ID, now); err != nil {
				return 0, err
			}
		}
		s.mu.Lock()
		c.RevokedAt = &now
		s.mu.Unlock()
	}
	return len(toRevoke), nil
}

// RevokeAll revokes every active capability a principal holds, regardless of
// source (spec §4.6.2 revoke_agent_capabilities). Returns the count revoked.
func (s *Store) RevokeAll(principalID string, now time.Time) (int, error) {
	lock := s.lockFor(principalID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	ids := s.byOwner[principalID]
	var toRevoke []*domain.Capability
	for id := range ids {
		c := s.byID[id]
		if c != nil && c.Active(now) {
			toRevoke = append(toRevoke, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range toRevoke {
		if s.backend != nil {
			if err := s.backend.Revoke(c.ID, now); err != nil {
				return 0, err
			}
		}
		s.mu.Lock()
		c.RevokedAt = &now
		s.mu.Unlock()
	}
	return len(toRevoke), nil
}

// Delete removes a capability from the store entirely (not just revokes it).
func (s *Store) Delete(id string) error {
	s.mu.RLock()
	c, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	lock := s.lockFor(c.PrincipalID)
	lock.Lock()
	defer lock.Unlock()

	if s.backend != nil {
		if err := s.backend.Delete(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	delete(s.byID, id)
	delete(s.byOwner[c.PrincipalID], id)
	s.mu.Unlock()
	return nil
}
