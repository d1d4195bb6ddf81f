package domain

import "time"

// CapabilitySource records why a capability was issued (spec §3).
type CapabilitySource string

const (
	CapabilitySourceTrustTier     CapabilitySource = "trust_tier"
	CapabilitySourceTierPromotion CapabilitySource = "tier_promotion"
	CapabilitySourceExplicitGrant CapabilitySource = "explicit_grant"
	CapabilitySourceDelegation    CapabilitySource = "delegation"
)

// Constraints are the optional limits attached to a capability grant
// (spec §3). Map-shaped to stay forward-compatible with constraint kinds the
// policy matrix doesn't know about yet.
type Constraints struct {
	RateLimitPerMinute int                    `json:"rate_limit,omitempty"`
	RequiresApproval   bool                   `json:"requires_approval,omitempty"`
	TimeWindow         *TimeWindow            `json:"time_window,omitempty"`
	AllowedPaths       []string               `json:"allowed_paths,omitempty"`
	Extra              map[string]interface{} `json:"extra,omitempty"`
}

// TimeWindow bounds when a capability may be exercised, e.g. "business
// hours only" constraints.
type TimeWindow struct {
	StartHourUTC int `json:"start_hour_utc"`
	EndHourUTC   int `json:"end_hour_utc"`
}

// Contains reports whether the given time falls inside the window (UTC hour
// of day, inclusive start, exclusive end; wraps past midnight if Start > End).
func (w *TimeWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	h := t.UTC().Hour()
	if w.StartHourUTC <= w.EndHourUTC {
		return h >= w.StartHourUTC && h < w.EndHourUTC
	}
	return h >= w.StartHourUTC || h < w.EndHourUTC
}

// DelegationLink is one hop in a capability's signed delegation chain.
type DelegationLink struct {
	IssuerID  string `json:"issuer_id"`
	Signature string `json:"signature"` // base64 Ed25519 signature over (issuer, delegated-to principal, resource URI, depth)
}

// Capability grants a principal rights to act on a resource URI, optionally
// time-bounded, optionally delegated (spec §3).
type Capability struct {
	ID              string           `json:"id"`
	PrincipalID     string           `json:"principal_id"`
	ResourceURI     string           `json:"resource_uri"`
	Constraints     Constraints      `json:"constraints"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	DelegationDepth int              `json:"delegation_depth"`
	IssuerID        string           `json:"issuer_id"`
	DelegationChain []DelegationLink `json:"delegation_chain,omitempty"`
	Source          CapabilitySource `json:"source"`
	IssuedAt        time.Time        `json:"issued_at"`
	RevokedAt       *time.Time       `json:"revoked_at,omitempty"`
}

// Active reports whether the capability is presently usable: not revoked,
// not expired.
func (c *Capability) Active(now time.Time) bool {
	if c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Expired reports whether the capability's expiry has passed (distinct from
// Active so callers can surface CapabilityExpired specifically, spec §7).
func (c *Capability) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) && c.RevokedAt == nil
}

// CapabilityTemplate is one entry in a tier's fixed capability list
// (spec §4.6.1). ResourceURITemplate may contain the literal segment "self"
// (e.g. "arbor://code/read/self/*"), resolved to the agent's own ID at grant
// time.
type CapabilityTemplate struct {
	ResourceURITemplate string      `json:"resource_uri"`
	Constraints         Constraints `json:"constraints"`
}

// TierDefinition is one tier's fixed list of capability templates
// (spec §4.6.1), plus the opaque sandbox classification for the host's
// execution layer. Sandbox is round-tripped, never interpreted here
// (spec §9 Open Question).
type TierDefinition struct {
	Tier      Tier                 `json:"tier"`
	Templates []CapabilityTemplate `json:"templates"`
	Sandbox   string               `json:"sandbox,omitempty"` // "strict" | "standard" | "permissive" | "none"
}

// CapabilityRepository is the durable store for capability grants, consumed
// by internal/capability's Store (spec §4.6.2).
type CapabilityRepository interface {
	Put(cap *Capability) error
	Get(id string) (*Capability, bool, error)
	ListByPrincipal(principalID string) ([]*Capability, error)
	ListActiveByPrincipal(principalID string, now time.Time) ([]*Capability, error)
	Revoke(id string, revokedAt time.Time) error
	Delete(id string) error
}
