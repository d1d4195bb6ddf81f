package capability

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/crypto"
	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/tier"
)

type fakeKeyLookup struct {
	keys map[string]string // agentID -> base64 public key
}

func newFakeKeyLookup() *fakeKeyLookup {
	return &fakeKeyLookup{keys: make(map[string]string)}
}

func (f *fakeKeyLookup) register(t *testing.T, agentID string) string {
	t.Helper()
	kp, err := crypto.GenerateEd25519KeyPair()
	require.NoError(t, err)
	encoded := crypto.EncodeKeyPair(kp)
	f.keys[agentID] = encoded.PublicKeyBase64
	return encoded.PrivateKeyBase64
}

func (f *fakeKeyLookup) LookupPublicKey(agentID string) (string, bool, error) {
	key, ok := f.keys[agentID]
	return key, ok, nil
}

func TestDelegateExtendsSignedChain(t *testing.T) {
	keys := newFakeKeyLookup()
	issuerPrivB64 := keys.register(t, "agent-root")

	store := New(newMemoryCapabilityRepo())
	resolver := tier.NewDefaultResolver()
	p := NewPolicy(store, resolver, WithKeyLookup(keys))

	now := time.Now()
	parent, err := store.Grant(&domain.Capability{
		PrincipalID: "agent-root",
		ResourceURI: "arbor://code/write/agent-root/*",
		Source:      domain.CapabilitySourceTrustTier,
		IssuedAt:    now,
	})
	require.NoError(t, err)

	sigB64, err := signLink(issuerPrivB64, "agent-root", "agent-child", parent.ResourceURI, 1)
	require.NoError(t, err)

	child, err := p.Delegate(parent.ID, "agent-root", "agent-child", sigB64, now)
	require.NoError(t, err)
	assert.Equal(t, 1, child.DelegationDepth)
	require.Len(t, child.DelegationChain, 1)
	assert.Equal(t, "agent-root", child.DelegationChain[0].IssuerID)
	assert.Equal(t, domain.CapabilitySourceDelegation, child.Source)

	require.NoError(t, VerifyChain(keys, child))
}

func TestDelegateRejectsBadSignature(t *testing.T) {
	keys := newFakeKeyLookup()
	keys.register(t, "agent-root")

	store := New(newMemoryCapabilityRepo())
	resolver := tier.NewDefaultResolver()
	p := NewPolicy(store, resolver, WithKeyLookup(keys))

	now := time.Now()
	parent, err := store.Grant(&domain.Capability{
		PrincipalID: "agent-root",
		ResourceURI: "arbor://code/write/agent-root/*",
		Source:      domain.CapabilitySourceTrustTier,
		IssuedAt:    now,
	})
	require.NoError(t, err)

	_, err = p.Delegate(parent.ID, "agent-root", "agent-child", base64.StdEncoding.EncodeToString([]byte("not-a-real-signature-not-a-real-signature")), now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCapabilitySignature))
}

func TestDelegateRefusesBeyondMaxDepth(t *testing.T) {
	keys := newFakeKeyLookup()
	rootPrivB64 := keys.register(t, "agent-0")

	store := New(newMemoryCapabilityRepo())
	resolver := tier.NewDefaultResolver()
	p := NewPolicy(store, resolver, WithKeyLookup(keys), WithMaxDelegationDepth(1))

	now := time.Now()
	cap, err := store.Grant(&domain.Capability{
		PrincipalID: "agent-0",
		ResourceURI: "arbor://code/write/agent-0/*",
		Source:      domain.CapabilitySourceTrustTier,
		IssuedAt:    now,
	})
	require.NoError(t, err)

	sigB64, err := signLink(rootPrivB64, "agent-0", "agent-1", cap.ResourceURI, 1)
	require.NoError(t, err)
	cap, err = p.Delegate(cap.ID, "agent-0", "agent-1", sigB64, now)
	require.NoError(t, err)

	agent1PrivB64 := keys.register(t, "agent-1")
	sigB64, err = signLink(agent1PrivB64, "agent-1", "agent-2", cap.ResourceURI, 2)
	require.NoError(t, err)

	_, err = p.Delegate(cap.ID, "agent-1", "agent-2", sigB64, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestAuthorizeByCapabilityVerifiesDelegationChain(t *testing.T) {
	keys := newFakeKeyLookup()
	rootPrivB64 := keys.register(t, "agent-root")

	store := New(newMemoryCapabilityRepo())
	resolver := tier.NewDefaultResolver()
	p := NewPolicy(store, resolver, WithKeyLookup(keys))

	now := time.Now()
	parent, err := store.Grant(&domain.Capability{
		PrincipalID: "agent-root",
		ResourceURI: "arbor://code/write/agent-root/*",
		Source:      domain.CapabilitySourceTrustTier,
		IssuedAt:    now,
	})
	require.NoError(t, err)

	sigB64, err := signLink(rootPrivB64, "agent-root", "agent-child", parent.ResourceURI, 1)
	require.NoError(t, err)
	child, err := p.Delegate(parent.ID, "agent-root", "agent-child", sigB64, now)
	require.NoError(t, err)

	result, err := p.AuthorizeByCapability(child.ID, "arbor://code/write/agent-root/main.go", now)
	require.NoError(t, err)
	assert.Equal(t, DecisionAuthorized, result.Decision)
}

func TestAuthorizeByCapabilityDeniesBrokenChain(t *testing.T) {
	keys := newFakeKeyLookup()
	keys.register(t, "agent-root")

	store := New(newMemoryCapabilityRepo())
	resolver := tier.NewDefaultResolver()
	p := NewPolicy(store, resolver, WithKeyLookup(keys))

	now := time.Now()
	tampered, err := store.Grant(&domain.Capability{
		PrincipalID:     "agent-child",
		ResourceURI:     "arbor://code/write/agent-root/*",
		Source:          domain.CapabilitySourceDelegation,
		DelegationDepth: 1,
		IssuerID:        "agent-root",
		DelegationChain: []domain.DelegationLink{{IssuerID: "agent-root", Signature: "bm90LWEtcmVhbC1zaWduYXR1cmU="}},
		IssuedAt:        now,
	})
	require.NoError(t, err)

	result, err := p.AuthorizeByCapability(tampered.ID, "arbor://code/write/agent-root/main.go", now)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, result.Decision)
}
