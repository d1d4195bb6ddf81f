package capability

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arbor-run/trust-core/internal/crypto"
	"github.com/arbor-run/trust-core/internal/domain"
)

// DefaultMaxDelegationDepth is the conservative default spec §9 suggests for
// capability.max_delegation_depth: an agent may re-delegate a capability at
// most this many hops before Delegate refuses to extend the chain.
const DefaultMaxDelegationDepth = 3

// KeyLookup resolves an agent's registered Ed25519 public key, the same
// collaborator identity.Verifier uses for request signatures (spec §3:
// delegation signatures are checked against the same registered keys).
type KeyLookup interface {
	LookupPublicKey(agentID string) (publicKeyB64 string, found bool, err error)
}

// delegationMessage builds the canonical bytes a delegation link's signature
// covers: the issuer vouching that principalID may hold a capability over
// resourceURI at the given chain depth. Depth is folded into the message so a
// signature can't be replayed at a different position in the chain.
func delegationMessage(issuerID, principalID, resourceURI string, depth int) []byte {
	parts := []string{issuerID, principalID, resourceURI, strconv.Itoa(depth)}
	return []byte(strings.Join(parts, "\n"))
}

// signLink produces the base64 Ed25519 signature a delegation caller attaches
// as issuerSignatureB64 to Policy.Delegate. Exercised by tests standing in
// for the issuing agent's own signing step.
func signLink(privateKeyB64, issuerID, principalID, resourceURI string, depth int) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 64 {
		return "", fmt.Errorf("invalid private key size: expected 64 bytes, got %d", len(raw))
	}
	sig := crypto.Sign(raw, delegationMessage(issuerID, principalID, resourceURI, depth))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// verifyLink checks one DelegationLink's signature against the issuer's
// registered public key (spec §3, §7 invalid_capability_signature).
func verifyLink(keys KeyLookup, link domain.DelegationLink, principalID, resourceURI string, depth int) error {
	if keys == nil {
		return fmt.Errorf("%w: no key lookup configured", domain.ErrInvalidCapabilitySignature)
	}
	publicKeyB64, found, err := keys.LookupPublicKey(link.IssuerID)
	if err != nil {
		return fmt.Errorf("lookup issuer key: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: issuer %q has no registered key", domain.ErrInvalidCapabilitySignature, link.IssuerID)
	}
	publicKey, err := crypto.DecodePublicKey(publicKeyB64)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCapabilitySignature, err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(link.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", domain.ErrInvalidCapabilitySignature)
	}
	if !crypto.VerifySignature(publicKey, delegationMessage(link.IssuerID, principalID, resourceURI, depth), sigBytes) {
		return domain.ErrInvalidCapabilitySignature
	}
	return nil
}

// VerifyChain walks a capability's delegation chain link by link, verifying
// every hop's signature and that the chain is unbroken and continuous from
// the root issuer down to cap.IssuerID (spec §3, §7 broken_delegation_chain).
// A capability with no chain (Source != delegation) always verifies.
func VerifyChain(keys KeyLookup, cap *domain.Capability) error {
	if len(cap.DelegationChain) == 0 {
		return nil
	}
	if len(cap.DelegationChain) != cap.DelegationDepth {
		return fmt.Errorf("%w: chain length %d does not match delegation_depth %d",
			domain.ErrBrokenDelegationChain, len(cap.DelegationChain), cap.DelegationDepth)
	}
	for depth, link := range cap.DelegationChain {
		// Each hop was signed for the principal it delegated to: the issuer of
		// the next link, or the capability's own principal for the last one.
		recipient := cap.PrincipalID
		if depth+1 < len(cap.DelegationChain) {
			recipient = cap.DelegationChain[depth+1].IssuerID
		}
		if err := verifyLink(keys, link, recipient, cap.ResourceURI, depth+1); err != nil {
			return err
		}
	}
	last := cap.DelegationChain[len(cap.DelegationChain)-1]
	if last.IssuerID != cap.IssuerID {
		return fmt.Errorf("%w: final link issuer %q does not match capability issuer %q",
			domain.ErrBrokenDelegationChain, last.IssuerID, cap.IssuerID)
	}
	return nil
}

// Delegate re-delegates an existing capability to a new principal, extending
// its delegation chain by one signed hop (spec §3, §4.6.2). issuerID is the
// agent currently holding parentCapID; issuerSignatureB64 is its Ed25519
// signature over delegationMessage(issuerID, newPrincipalID, resourceURI,
// parent.DelegationDepth+1). Depth beyond maxDelegationDepth fails closed
// with quota_exceeded("delegation_depth") (spec §7).
func (p *Policy) Delegate(parentCapID, issuerID, newPrincipalID, issuerSignatureB64 string, now time.Time) (*domain.Capability, error) {
	parent, err := p.store.Get(parentCapID)
	if err != nil {
		return nil, err
	}
	if !parent.Active(now) {
		return nil, domain.ErrCapabilityExpired
	}
	if parent.PrincipalID != issuerID {
		return nil, fmt.Errorf("%w: %s does not hold capability %s", domain.ErrUnauthorized, issuerID, parentCapID)
	}

	newDepth := parent.DelegationDepth + 1
	if newDepth > p.maxDelegationDepth {
		return nil, domain.NewQuotaExceeded("delegation_depth", fmt.Sprintf("max %d", p.maxDelegationDepth))
	}

	link := domain.DelegationLink{IssuerID: issuerID, Signature: issuerSignatureB64}
	if err := verifyLink(p.keys, link, newPrincipalID, parent.ResourceURI, newDepth); err != nil {
		return nil, err
	}

	chain := append(append([]domain.DelegationLink{}, parent.DelegationChain...), link)
	granted, err := p.store.Grant(&domain.Capability{
		PrincipalID:     newPrincipalID,
		ResourceURI:     parent.ResourceURI,
		Constraints:     parent.Constraints,
		ExpiresAt:       parent.ExpiresAt,
		DelegationDepth: newDepth,
		IssuerID:        issuerID,
		DelegationChain: chain,
		Source:          domain.CapabilitySourceDelegation,
		IssuedAt:        now,
	})
	if err != nil {
		return nil, err
	}
	p.broadcast("capability_delegated", newPrincipalID, map[string]interface{}{
		"parent_capability_id": parentCapID, "issuer_id": issuerID, "depth": newDepth,
	})
	return granted, nil
}

// AuthorizeByCapability authorizes a request against a specific capability ID
// rather than a tier template — the path delegated capabilities exercise
// (spec §3: "delegated capabilities are checked by walking the chain, not by
// tier template lookup"). Expired or revoked capabilities, URI mismatches,
// and broken or unsigned chains all fail closed with a Denied verdict.
func (p *Policy) AuthorizeByCapability(capID, uri string, now time.Time) (AuthorizeResult, error) {
	cap, err := p.store.Get(capID)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if !cap.Active(now) {
		return AuthorizeResult{Decision: DecisionDenied, Reason: "capability_expired"}, nil
	}
	if !matchTemplate(ResolveSelf(cap.ResourceURI, cap.PrincipalID), uri) {
		return AuthorizeResult{Decision: DecisionDenied, Reason: "resource_uri_mismatch"}, nil
	}
	if cap.Source == domain.CapabilitySourceDelegation {
		if err := VerifyChain(p.keys, cap); err != nil {
			return AuthorizeResult{Decision: DecisionDenied, Reason: err.Error()}, nil
		}
	}
	if cap.Constraints.RequiresApproval {
		return AuthorizeResult{Decision: DecisionPendingApproval}, nil
	}
	return AuthorizeResult{Decision: DecisionAuthorized}, nil
}
