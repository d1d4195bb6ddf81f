package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// KeyPair represents an Ed25519 cryptographic key pair
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// KeyPairEncoded represents a key pair with base64-encoded keys
type KeyPairEncoded struct {
	PublicKeyBase64  string
	PrivateKeyBase64 string
	Algorithm        string
}

// GenerateEd25519KeyPair generates a new Ed25519 key pair.
func GenerateEd25519KeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 key pair: %w", err)
	}

	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}, nil
}

// EncodeKeyPair converts a KeyPair to base64-encoded strings
func EncodeKeyPair(kp *KeyPair) *KeyPairEncoded {
	return &KeyPairEncoded{
		PublicKeyBase64:  base64.StdEncoding.EncodeToString(kp.PublicKey),
		PrivateKeyBase64: base64.StdEncoding.EncodeToString(kp.PrivateKey),
		Algorithm:        "Ed25519",
	}
}

// DecodePublicKey decodes a base64-encoded public key
func DecodePublicKey(publicKeyBase64 string) (ed25519.PublicKey, error) {
	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d bytes, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	return ed25519.PublicKey(publicKeyBytes), nil
}

// VerifySignature verifies a signature with a public key.
func VerifySignature(publicKey ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(publicKey, message, signature)
}

// Sign signs a message with a raw (non-base64) Ed25519 private key.
func Sign(privateKey []byte, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(privateKey), message)
}
