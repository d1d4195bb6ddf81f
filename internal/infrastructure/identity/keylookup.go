package identity

import (
	"context"

	"github.com/arbor-run/trust-core/internal/domain"
)

const keyStoreName = "agent_public_keys"

// KVKeyLookup is the default KeyLookup, backed by the persistence
// collaborator's key/value surface (spec §6). Agent registration itself is
// out of scope for trust-core; this only stores the public key an operator
// registers through the admin API, which VerifyRequest then prefers over the
// key a request claims ("registered key wins over claimed key").
type KVKeyLookup struct {
	kv domain.KVStore
}

// NewKVKeyLookup builds a KVKeyLookup over the shared KVStore.
func NewKVKeyLookup(kv domain.KVStore) *KVKeyLookup {
	return &KVKeyLookup{kv: kv}
}

// LookupPublicKey implements identity.KeyLookup.
func (k *KVKeyLookup) LookupPublicKey(agentID string) (string, bool, error) {
	val, found, err := k.kv.Get(context.Background(), keyStoreName, agentID)
	if err != nil || !found {
		return "", found, err
	}
	return string(val), true, nil
}

// RegisterPublicKey records an agent's public key (called by the admin
// RegisterKey endpoint); once recorded, requests signed under a different
// claimed key fail verification.
func (k *KVKeyLookup) RegisterPublicKey(agentID, publicKeyB64 string) error {
	return k.kv.Put(context.Background(), keyStoreName, agentID, []byte(publicKeyB64))
}
