package domain

import "context"

// KVStore is the persistence collaborator's key/value surface (spec §6):
// Put/Get/Delete/ListKeys/Exists, namespaced by store name. Implementations
// live under internal/infrastructure/persistence.
type KVStore interface {
	Put(ctx context.Context, storeName, key string, value []byte) error
	Get(ctx context.Context, storeName, key string) ([]byte, bool, error)
	Delete(ctx context.Context, storeName, key string) error
	ListKeys(ctx context.Context, storeName string) ([]string, error)
	Exists(ctx context.Context, storeName, key string) (bool, error)
}

// DurableEvent is the wire shape persisted events take in the event log
// collaborator (spec §6): {id, stream_id, type, timestamp, data, metadata}.
type DurableEvent struct {
	ID        string
	StreamID  string
	Type      string
	TimestampMS int64
	Data      []byte
	Metadata  map[string]interface{}
}

// EventLog is the persistence collaborator's append-only log surface
// (spec §6). At-least-once append durability; exactly-once per
// (stream_id, event_id) — duplicate IDs are rejected.
type EventLog interface {
	Append(ctx context.Context, streamID string, event *DurableEvent) error
	ReadStream(ctx context.Context, streamID string) ([]*DurableEvent, error)
	ReadAll(ctx context.Context) ([]*DurableEvent, error)
	Version(ctx context.Context, streamID string) (int64, error)
}

// IdentityResult is the outcome of a successful signed-request verification.
type IdentityResult struct {
	AgentID string
}

// IdentityVerifier is the identity collaborator interface consumed when
// verify_identity: true is passed to authorize (spec §6). A signed request is
// opaque bytes from the caller's perspective; how it is framed (headers,
// detached signature, ...) is the HTTP layer's job.
type IdentityVerifier interface {
	VerifyRequest(ctx context.Context, signedRequest *SignedRequest) (*IdentityResult, error)
	LookupPublicKey(ctx context.Context, agentID string) (string, bool, error)
}

// SignedRequest carries the material an IdentityVerifier needs to check an
// Ed25519-signed request, grounded on the teacher's Ed25519 agent-auth
// middleware (method + path + timestamp + body, signed, plus the claimed
// agent id and public key for first-registration bootstrap).
type SignedRequest struct {
	AgentID      string
	Method       string
	Path         string
	TimestampUnix int64
	Body         []byte
	PublicKeyB64 string
	SignatureB64 string
}
