package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec §7). Every authorization-path error is one of these
// sentinels, optionally wrapped with %w to attach context, never a panic.
var (
	ErrNotFound                  = errors.New("not_found")
	ErrAlreadyExists             = errors.New("already_exists")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrCapabilityExpired         = errors.New("capability_expired")
	ErrCapabilityNotFound        = errors.New("capability_not_found")
	ErrInsufficientTrust         = errors.New("insufficient_trust")
	ErrTrustFrozen               = errors.New("trust_frozen")
	ErrConstraintViolated        = errors.New("constraint_violated")
	ErrQuotaExceeded             = errors.New("quota_exceeded")
	ErrBrokenDelegationChain     = errors.New("broken_delegation_chain")
	ErrInvalidCapabilitySignature = errors.New("invalid_capability_signature")
	ErrInvalidSignature          = errors.New("invalid_signature")
	ErrExpiredTimestamp          = errors.New("expired_timestamp")
	ErrReplayedNonce             = errors.New("replayed_nonce")
	ErrInfrastructureUnavailable = errors.New("infrastructure_unavailable")
)

// ConstraintViolation wraps ErrConstraintViolated with the offending
// constraint kind and context (spec §7: constraint_violated(type, context)).
type ConstraintViolation struct {
	Kind    string // "time_window" | "path" | "rate_limit" | "approval"
	Context string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint_violated(%s): %s", e.Kind, e.Context)
}

func (e *ConstraintViolation) Unwrap() error { return ErrConstraintViolated }

// NewConstraintViolation builds a ConstraintViolation error.
func NewConstraintViolation(kind, context string) error {
	return &ConstraintViolation{Kind: kind, Context: context}
}

// QuotaExceeded wraps ErrQuotaExceeded with the quota kind and context
// (spec §7: quota_exceeded(quota_type, ctx)).
type QuotaExceeded struct {
	QuotaType string // "per_agent" | "global" | "delegation_depth"
	Context   string
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota_exceeded(%s): %s", e.QuotaType, e.Context)
}

func (e *QuotaExceeded) Unwrap() error { return ErrQuotaExceeded }

// NewQuotaExceeded builds a QuotaExceeded error.
func NewQuotaExceeded(quotaType, context string) error {
	return &QuotaExceeded{QuotaType: quotaType, Context: context}
}
