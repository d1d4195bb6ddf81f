// Package profilestore implements C3 (spec §4.3): profile lifecycle,
// a short-TTL in-process cache over an optional durable backend, counter
// helpers, freeze/unfreeze, and tier-transition signaling. Grounded on the
// teacher's repository-plus-cache layering (internal/infrastructure/cache,
// internal/infrastructure/repository) generalized from Redis-backed entity
// caching to an in-process go-cache layer over a pluggable domain.KVStore.
package profilestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/scoring"
	"github.com/arbor-run/trust-core/internal/signalbus"
)

// DefaultCacheTTL matches spec §4.3: "short TTL cache, default 1 hour".
const DefaultCacheTTL = time.Hour

// storeName namespaces profile keys in the durable KVStore collaborator.
const storeName = "trust_profiles"

// UpdateFunc mutates a profile in place. Returning an error aborts the
// update; the profile is left unmodified from the caller's perspective.
type UpdateFunc func(p *domain.Profile) error

// Store owns every agent's Profile: in-process cache, optional durable
// backend, per-agent update serialization, counter helpers, and
// tier-transition signaling (spec §4.3).
type Store struct {
	cache      *cache.Cache
	backend    domain.KVStore // optional; nil means in-memory only
	calculator *scoring.Calculator
	resolver   tierResolver
	bus        *signalbus.Bus
	onTierChange TierChangeFunc

	logger *log.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// tierResolver is the subset of *tier.Resolver the store needs; kept as an
// interface so tests can stub it without importing internal/tier.
type tierResolver interface {
	Max(a, b domain.Tier) domain.Tier
	ResolveByPoints(points int) domain.Tier
}

// TierChangeFunc is invoked synchronously, inside Update, whenever a profile's
// tier changes — the hook the Trust Manager uses to append an event and the
// Capability Store uses to sync capabilities (spec §4.3, §4.5.2 step 8).
type TierChangeFunc func(agentID string, old, new domain.Tier)

// Option configures a Store at construction time.
type Option func(*Store)

// WithBackend attaches a durable KVStore; without one the store is
// in-memory-only for the process lifetime.
func WithBackend(backend domain.KVStore) Option {
	return func(s *Store) { s.backend = backend }
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.cache = cache.New(ttl, ttl*2) }
}

// WithSignalBus attaches the bus tier transitions broadcast on.
func WithSignalBus(bus *signalbus.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithTierChangeFunc registers the tier-transition hook.
func WithTierChangeFunc(fn TierChangeFunc) Option {
	return func(s *Store) { s.onTierChange = fn }
}

// SetTierChangeHook registers the tier-transition hook after construction,
// for callers (like trustmanager.Manager) that need a *Store handle to exist
// before they themselves can be built.
func (s *Store) SetTierChangeHook(fn TierChangeFunc) {
	s.onTierChange = fn
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds a Store with an empty in-process cache. Pass WithBackend for
// durability across restarts.
func New(calculator *scoring.Calculator, resolver tierResolver, opts ...Option) *Store {
	s := &Store{
		cache:      cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
		calculator: calculator,
		resolver:   resolver,
		locks:      make(map[string]*sync.Mutex),
		logger:     log.New(log.Writer(), "[PROFILE-STORE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lockFor(agentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[agentID] = m
	}
	return m
}

// Get returns a profile, checking the cache first then the durable backend,
// writing through to cache on a backend hit (spec §4.3).
func (s *Store) Get(agentID string) (*domain.Profile, error) {
	if v, ok := s.cache.Get(agentID); ok {
		return v.(*domain.Profile).Clone(), nil
	}
	if s.backend == nil {
		return nil, domain.ErrNotFound
	}
	raw, found, err := s.backend.Get(context.Background(), storeName, agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: profile backend read for %s: %v", domain.ErrInfrastructureUnavailable, agentID, err)
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	p, err := decodeProfile(raw)
	if err != nil {
		s.logger.Printf("corrupt profile entry for %s: %v", agentID, err)
		return nil, domain.ErrNotFound
	}
	s.cache.Set(agentID, p, cache.DefaultExpiration)
	return p.Clone(), nil
}

// Put stores a profile directly, bypassing Update (used for profile
// creation and restores).
func (s *Store) Put(p *domain.Profile) error {
	lock := s.lockFor(p.AgentID)
	lock.Lock()
	defer lock.Unlock()
	return s.putLocked(p)
}

func (s *Store) putLocked(p *domain.Profile) error {
	s.cache.Set(p.AgentID, p.Clone(), cache.DefaultExpiration)
	if s.backend == nil {
		return nil
	}
	raw, err := encodeProfile(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.AgentID, err)
	}
	if err := s.backend.Put(context.Background(), storeName, p.AgentID, raw); err != nil {
		s.logger.Printf("durable write failed for %s, in-memory state still advanced: %v", p.AgentID, err)
	}
	return nil
}

// Delete removes a profile from cache and backend.
func (s *Store) Delete(agentID string) error {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	s.cache.Delete(agentID)
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Delete(context.Background(), storeName, agentID); err != nil {
		return fmt.Errorf("%w: delete profile %s: %v", domain.ErrInfrastructureUnavailable, agentID, err)
	}
	return nil
}

// GetOrCreate returns the existing profile or creates and persists a fresh
// one (spec §4.5.2 step 1: "Load profile; if missing, auto-create").
func (s *Store) GetOrCreate(agentID string, now time.Time) (*domain.Profile, error) {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if v, ok := s.cache.Get(agentID); ok {
		return v.(*domain.Profile).Clone(), nil
	}
	if s.backend != nil {
		raw, found, err := s.backend.Get(context.Background(), storeName, agentID)
		if err == nil && found {
			if p, decErr := decodeProfile(raw); decErr == nil {
				s.cache.Set(agentID, p, cache.DefaultExpiration)
				return p.Clone(), nil
			}
		}
	}
	p := domain.NewProfile(agentID, now)
	if err := s.putLocked(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Update serializes per-agent, applies f, refreshes updated_at, detects a
// tier transition, and invokes the registered TierChangeFunc plus a
// best-effort signal broadcast (spec §4.3).
func (s *Store) Update(agentID string, now time.Time, f UpdateFunc) (*domain.Profile, error) {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.getLocked(agentID)
	if err != nil {
		return nil, err
	}

	before := existing.Tier
	if err := f(existing); err != nil {
		return nil, err
	}
	existing.UpdatedAt = now

	if err := s.putLocked(existing); err != nil {
		return nil, err
	}

	if existing.Tier != before {
		if s.onTierChange != nil {
			s.onTierChange(agentID, before, existing.Tier)
		}
		if s.bus != nil {
			s.bus.Publish(signalbus.TopicTrust, "tier_changed", map[string]interface{}{
				"agent_id":  agentID,
				"old_tier":  string(before),
				"new_tier":  string(existing.Tier),
			})
		}
	}
	return existing.Clone(), nil
}

func (s *Store) getLocked(agentID string) (*domain.Profile, error) {
	if v, ok := s.cache.Get(agentID); ok {
		return v.(*domain.Profile).Clone(), nil
	}
	if s.backend == nil {
		return nil, domain.ErrNotFound
	}
	raw, found, err := s.backend.Get(context.Background(), storeName, agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructureUnavailable, err)
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	p, err := decodeProfile(raw)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// recalcAndLiftTier recomputes score-derived fields then lifts the tier to
// max(score_tier, points_tier), per spec §4.3's counter-helper contract.
func (s *Store) recalcAndLiftTier(p *domain.Profile, now time.Time) {
	s.calculator.Recalculate(p, now)
	pointsTier := s.resolver.ResolveByPoints(p.TrustPoints)
	p.Tier = s.resolver.Max(p.Tier, pointsTier)
}

// --- Counter helpers (spec §4.3) ---

func (s *Store) RecordActionSuccess(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.TotalActions++
		p.SuccessfulActions++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordActionFailure(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.TotalActions++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordTestResult(agentID string, passed bool, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.TotalTests++
		if passed {
			p.TestsPassed++
		}
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordRollback(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.RollbackCount++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordImprovement(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.ImprovementCount++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordSecurityViolation(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.SecurityViolations++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordProposalSubmitted(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordProposalApproved(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.ProposalsApproved++
		p.ImprovementCount++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

// RecordProposalRejected touches activity only; the point deduction for a
// rejected proposal is applied by the trust manager's configured points
// table, not as a profile counter (spec §6 points_lost).
func (s *Store) RecordProposalRejected(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordInstallationSuccess(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.InstallationsSuccessful++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

func (s *Store) RecordInstallationRollback(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.InstallationsRolledBack++
		p.RollbackCount++
		p.LastActivityAt = now
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

// AwardTrustPoints adds n points, lifting the tier to the points floor if it
// now exceeds the score-derived tier (spec §4.3).
func (s *Store) AwardTrustPoints(agentID string, n int, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.TrustPoints += n
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

// DeductTrustPoints subtracts n points (floored at 0) with a recorded reason.
func (s *Store) DeductTrustPoints(agentID string, n int, reason string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.TrustPoints -= n
		if p.TrustPoints < 0 {
			p.TrustPoints = 0
		}
		_ = reason // carried on the emitted Event, not the profile itself
		s.recalcAndLiftTier(p, now)
		return nil
	})
}

// Freeze sets the frozen flag and reason without touching counters or score
// (spec §4.3).
func (s *Store) Freeze(agentID, reason string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.Frozen = true
		p.FrozenReason = reason
		return nil
	})
}

// Unfreeze clears the frozen flag and reason.
func (s *Store) Unfreeze(agentID string, now time.Time) (*domain.Profile, error) {
	return s.Update(agentID, now, func(p *domain.Profile) error {
		p.Frozen = false
		p.FrozenReason = ""
		return nil
	})
}

// List returns profiles matching the filter; if a durable backend is
// configured, the cache is authoritative for any key it holds and the
// backend fills in the rest.
func (s *Store) List(filter domain.ProfileFilter) ([]*domain.Profile, error) {
	seen := make(map[string]*domain.Profile)
	for key, item := range s.cache.Items() {
		if p, ok := item.Object.(*domain.Profile); ok {
			seen[key] = p
		}
	}
	if s.backend != nil {
		keys, err := s.backend.ListKeys(context.Background(), storeName)
		if err != nil {
			return nil, fmt.Errorf("%w: list profiles: %v", domain.ErrInfrastructureUnavailable, err)
		}
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			raw, found, err := s.backend.Get(context.Background(), storeName, k)
			if err != nil || !found {
				continue
			}
			if p, err := decodeProfile(raw); err == nil {
				seen[k] = p
			}
		}
	}

	out := make([]*domain.Profile, 0, len(seen))
	for _, p := range seen {
		if filter.Tier != nil && p.Tier != *filter.Tier {
			continue
		}
		out = append(out, p.Clone())
	}

	switch filter.OrderBy {
	case "trust_score":
		sort.Slice(out, func(i, j int) bool { return out[i].TrustScore > out[j].TrustScore })
	case "updated_at":
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RecalculateAll refreshes score and tier for every cached profile, e.g.
// after a config change to score weights.
func (s *Store) RecalculateAll(now time.Time) error {
	profiles, err := s.List(domain.ProfileFilter{})
	if err != nil {
		return err
	}
	for _, p := range profiles {
		agentID := p.AgentID
		if _, err := s.Update(agentID, now, func(p *domain.Profile) error {
			s.recalcAndLiftTier(p, now)
			return nil
		}); err != nil {
			s.logger.Printf("recalculate_all: agent %s failed: %v", agentID, err)
		}
	}
	return nil
}

func encodeProfile(p *domain.Profile) ([]byte, error) {
	return json.Marshal(p)
}

func decodeProfile(raw []byte) (*domain.Profile, error) {
	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
