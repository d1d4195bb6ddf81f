// Package auth issues and validates the JWTs that gate the admin HTTP
// surface (freeze/unfreeze/award-points/decay-run/circuit-breaker-reset):
// human-operator auth, distinct from the Ed25519 agent-signing scheme
// agents use against the authorize API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AdminClaims identifies the human operator and role behind an admin
// request.
type AdminClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and validates admin session tokens.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWTService. secret must be at least 32 bytes.
func NewJWTService(secret string, expiry time.Duration) (*JWTService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("admin JWT secret must be at least 32 characters")
	}
	return &JWTService{secret: []byte(secret), expiry: expiry}, nil
}

// GenerateToken issues a signed admin token for subject/role.
func (s *JWTService) GenerateToken(subject, role string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "trust-core",
			Subject:   subject,
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates an admin token.
func (s *JWTService) ValidateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
