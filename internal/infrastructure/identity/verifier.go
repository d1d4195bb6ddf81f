// Package identity implements the identity collaborator (spec §6):
// Ed25519 signature verification over a canonical request message, grounded
// on the teacher's ED25519Service and Ed25519AgentMiddleware request-signing
// scheme (METHOD\nPATH\nTIMESTAMP\n[BODY]).
package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arbor-run/trust-core/internal/crypto"
	"github.com/arbor-run/trust-core/internal/domain"
)

// KeyLookup resolves an agent's registered public key, backed by whatever
// durable store holds agent registration (outside this module's scope;
// trust-core only verifies, it doesn't manage agent registration).
type KeyLookup interface {
	LookupPublicKey(agentID string) (publicKeyB64 string, found bool, err error)
}

// Verifier implements domain.IdentityVerifier over Ed25519-signed requests.
type Verifier struct {
	keys KeyLookup
	ttl  time.Duration
}

// New builds a Verifier. ttl bounds the allowed clock skew between a
// request's timestamp and now (spec §7 expired_timestamp).
func New(keys KeyLookup, ttl time.Duration) *Verifier {
	return &Verifier{keys: keys, ttl: ttl}
}

// canonicalMessage reconstructs the signed message: METHOD\nPATH\nTIMESTAMP
// with the raw request body appended if present.
func canonicalMessage(req *domain.SignedRequest) []byte {
	parts := []string{strings.ToUpper(req.Method), req.Path, strconv.FormatInt(req.TimestampUnix, 10)}
	if len(req.Body) > 0 {
		parts = append(parts, string(req.Body))
	}
	return []byte(strings.Join(parts, "\n"))
}

// VerifyRequest validates a signed request's timestamp freshness and Ed25519
// signature (spec §6, §7: invalid_signature, expired_timestamp).
func (v *Verifier) VerifyRequest(ctx context.Context, req *domain.SignedRequest) (*domain.IdentityResult, error) {
	now := time.Now().Unix()
	skew := int64(v.ttl.Seconds())
	if req.TimestampUnix < now-skew || req.TimestampUnix > now+skew {
		return nil, domain.ErrExpiredTimestamp
	}

	publicKeyB64 := req.PublicKeyB64
	if v.keys != nil {
		if registered, found, err := v.keys.LookupPublicKey(req.AgentID); err != nil {
			return nil, fmt.Errorf("lookup public key: %w", err)
		} else if found {
			publicKeyB64 = registered // registered key wins over a first-registration claim
		}
	}

	publicKey, err := crypto.DecodePublicKey(publicKeyB64)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}
	signatureBytes, err := base64.StdEncoding.DecodeString(req.SignatureB64)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}

	if !crypto.VerifySignature(publicKey, canonicalMessage(req), signatureBytes) {
		return nil, domain.ErrInvalidSignature
	}

	return &domain.IdentityResult{AgentID: req.AgentID}, nil
}

// LookupPublicKey exposes the underlying key lookup for callers that need it
// directly (e.g. a registration handler checking for key reuse).
func (v *Verifier) LookupPublicKey(ctx context.Context, agentID string) (string, bool, error) {
	if v.keys == nil {
		return "", false, nil
	}
	key, found, err := v.keys.LookupPublicKey(agentID)
	return key, found, err
}
