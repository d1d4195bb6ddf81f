package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/arbor-run/trust-core/internal/domain"
)

// PostgresStore is a domain.KVStore backed by a single namespaced table.
// Grounded on the teacher's raw sqlx.Exec/Query repository style
// (internal/infrastructure/repository), generalized to a key/value surface
// since this domain's stateful components already keep their own in-memory
// indices and only need a durable mirror, not a relational schema.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore builds a PostgresStore over an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, storeName, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (store_name, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_name, key) DO UPDATE SET value = $3, updated_at = $4
	`, storeName, key, value, time.Now())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, storeName, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `
		SELECT value FROM kv_store WHERE store_name = $1 AND key = $2
	`, storeName, key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, storeName, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE store_name = $1 AND key = $2`, storeName, key)
	return err
}

func (s *PostgresStore) ListKeys(ctx context.Context, storeName string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `SELECT key FROM kv_store WHERE store_name = $1`, storeName)
	return keys, err
}

func (s *PostgresStore) Exists(ctx context.Context, storeName, key string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM kv_store WHERE store_name = $1 AND key = $2)
	`, storeName, key)
	return exists, err
}

var _ domain.KVStore = (*PostgresStore)(nil)

// PostgresLog is a domain.EventLog backed by an append-only table, unique on
// (stream_id, event_id) to enforce exactly-once append (spec §6).
type PostgresLog struct {
	db *sqlx.DB
}

// NewPostgresLog builds a PostgresLog over an open connection pool.
func NewPostgresLog(db *sqlx.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, streamID string, event *domain.DurableEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO event_log (id, stream_id, type, timestamp_ms, data, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, streamID, event.Type, event.TimestampMS, event.Data, metadataJSON)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (l *PostgresLog) ReadStream(ctx context.Context, streamID string) ([]*domain.DurableEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, stream_id, type, timestamp_ms, data, metadata
		FROM event_log WHERE stream_id = $1 ORDER BY timestamp_ms ASC, id ASC
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (l *PostgresLog) ReadAll(ctx context.Context) ([]*domain.DurableEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, stream_id, type, timestamp_ms, data, metadata
		FROM event_log ORDER BY timestamp_ms ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (l *PostgresLog) Version(ctx context.Context, streamID string) (int64, error) {
	var count int64
	err := l.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM event_log WHERE stream_id = $1`, streamID)
	return count, err
}

func scanEvents(rows *sql.Rows) ([]*domain.DurableEvent, error) {
	var out []*domain.DurableEvent
	for rows.Next() {
		e := &domain.DurableEvent{}
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Type, &e.TimestampMS, &e.Data, &metadataJSON); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.EventLog = (*PostgresLog)(nil)

// PostgresCapabilityRepo is a domain.CapabilityRepository backed by a
// capabilities table, grounded on the teacher's CapabilityRepositoryPostgres.
type PostgresCapabilityRepo struct {
	db *sqlx.DB
}

// NewPostgresCapabilityRepo builds a PostgresCapabilityRepo over an open pool.
func NewPostgresCapabilityRepo(db *sqlx.DB) *PostgresCapabilityRepo {
	return &PostgresCapabilityRepo{db: db}
}

func (r *PostgresCapabilityRepo) Put(cap *domain.Capability) error {
	constraintsJSON, err := json.Marshal(cap.Constraints)
	if err != nil {
		return err
	}
	chainJSON, err := json.Marshal(cap.DelegationChain)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO capabilities (
			id, principal_id, resource_uri, constraints, expires_at,
			delegation_depth, issuer_id, delegation_chain, source, issued_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			constraints = $4, expires_at = $5, revoked_at = $11
	`, cap.ID, cap.PrincipalID, cap.ResourceURI, constraintsJSON, cap.ExpiresAt,
		cap.DelegationDepth, cap.IssuerID, chainJSON, cap.Source, cap.IssuedAt, cap.RevokedAt)
	return err
}

func (r *PostgresCapabilityRepo) Get(id string) (*domain.Capability, bool, error) {
	row := r.db.QueryRow(`
		SELECT id, principal_id, resource_uri, constraints, expires_at,
			delegation_depth, issuer_id, delegation_chain, source, issued_at, revoked_at
		FROM capabilities WHERE id = $1
	`, id)
	cap, err := scanCapability(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cap, true, nil
}

func (r *PostgresCapabilityRepo) ListByPrincipal(principalID string) ([]*domain.Capability, error) {
	rows, err := r.db.Query(`
		SELECT id, principal_id, resource_uri, constraints, expires_at,
			delegation_depth, issuer_id, delegation_chain, source, issued_at, revoked_at
		FROM capabilities WHERE principal_id = $1
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCapabilities(rows)
}

func (r *PostgresCapabilityRepo) ListActiveByPrincipal(principalID string, now time.Time) ([]*domain.Capability, error) {
	all, err := r.ListByPrincipal(principalID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Capability
	for _, c := range all {
		if c.Active(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *PostgresCapabilityRepo) Revoke(id string, revokedAt time.Time) error {
	res, err := r.db.Exec(`UPDATE capabilities SET revoked_at = $1 WHERE id = $2`, revokedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresCapabilityRepo) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM capabilities WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCapability(row rowScanner) (*domain.Capability, error) {
	c := &domain.Capability{}
	var constraintsJSON, chainJSON []byte
	var expiresAt, revokedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.PrincipalID, &c.ResourceURI, &constraintsJSON, &expiresAt,
		&c.DelegationDepth, &c.IssuerID, &chainJSON, &c.Source, &c.IssuedAt, &revokedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}
	if len(constraintsJSON) > 0 {
		if err := json.Unmarshal(constraintsJSON, &c.Constraints); err != nil {
			return nil, err
		}
	}
	if len(chainJSON) > 0 {
		if err := json.Unmarshal(chainJSON, &c.DelegationChain); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func scanCapabilities(rows *sql.Rows) ([]*domain.Capability, error) {
	var out []*domain.Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ domain.CapabilityRepository = (*PostgresCapabilityRepo)(nil)

// PostgresConfirmationRepo is a domain.ConfirmationRepository backed by a
// confirmation_entries table keyed on (agent_id, bundle).
type PostgresConfirmationRepo struct {
	db *sqlx.DB
}

// NewPostgresConfirmationRepo builds a PostgresConfirmationRepo over an open pool.
func NewPostgresConfirmationRepo(db *sqlx.DB) *PostgresConfirmationRepo {
	return &PostgresConfirmationRepo{db: db}
}

func (r *PostgresConfirmationRepo) Get(agentID string, bundle domain.Bundle) (*domain.ConfirmationEntry, bool, error) {
	row := r.db.QueryRow(`
		SELECT agent_id, bundle, approvals, rejections, streak, graduated, locked,
			last_confirmation, graduated_at
		FROM confirmation_entries WHERE agent_id = $1 AND bundle = $2
	`, agentID, bundle)
	e, err := scanConfirmation(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (r *PostgresConfirmationRepo) Put(entry *domain.ConfirmationEntry) error {
	_, err := r.db.Exec(`
		INSERT INTO confirmation_entries (
			agent_id, bundle, approvals, rejections, streak, graduated, locked,
			last_confirmation, graduated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id, bundle) DO UPDATE SET
			approvals = $3, rejections = $4, streak = $5, graduated = $6, locked = $7,
			last_confirmation = $8, graduated_at = $9
	`, entry.AgentID, entry.Bundle, entry.Approvals, entry.Rejections, entry.Streak,
		entry.Graduated, entry.Locked, entry.LastConfirmation, entry.GraduatedAt)
	return err
}

func (r *PostgresConfirmationRepo) ListByAgent(agentID string) ([]*domain.ConfirmationEntry, error) {
	rows, err := r.db.Query(`
		SELECT agent_id, bundle, approvals, rejections, streak, graduated, locked,
			last_confirmation, graduated_at
		FROM confirmation_entries WHERE agent_id = $1
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ConfirmationEntry
	for rows.Next() {
		e, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresConfirmationRepo) DeleteByAgent(agentID string) error {
	_, err := r.db.Exec(`DELETE FROM confirmation_entries WHERE agent_id = $1`, agentID)
	return err
}

func scanConfirmation(row rowScanner) (*domain.ConfirmationEntry, error) {
	e := &domain.ConfirmationEntry{}
	var bundle string
	var lastConfirmation, graduatedAt sql.NullTime
	if err := row.Scan(&e.AgentID, &bundle, &e.Approvals, &e.Rejections, &e.Streak,
		&e.Graduated, &e.Locked, &lastConfirmation, &graduatedAt); err != nil {
		return nil, err
	}
	e.Bundle = domain.Bundle(bundle)
	if lastConfirmation.Valid {
		e.LastConfirmation = &lastConfirmation.Time
	}
	if graduatedAt.Valid {
		e.GraduatedAt = &graduatedAt.Time
	}
	return e, nil
}

var _ domain.ConfirmationRepository = (*PostgresConfirmationRepo)(nil)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505): event_log's (stream_id, event_id) uniqueness
// is how exactly-once append is enforced (spec §6).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
