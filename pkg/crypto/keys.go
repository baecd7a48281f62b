// Package crypto provides the cryptographic primitives shared across the
// node: Ed25519 signing identity, X25519 key agreement, canonical hashing,
// and AEAD package envelopes.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// SigningKeyPair is a node's long-lived Ed25519 signing identity.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair creates a new random Ed25519 keypair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// SigningKeyPairFromSeed rebuilds a keypair from its 32-byte seed.
func SigningKeyPairFromSeed(seed []byte) (*SigningKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &SigningKeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Seed returns the 32-byte seed from which the private key was derived.
func (kp *SigningKeyPair) Seed() []byte {
	return kp.Private.Seed()
}

// Sign signs msg with the private key.
func (kp *SigningKeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// Verify checks an Ed25519 signature against a raw 32-byte public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// X25519KeyPair is a node's long-lived key-agreement identity. The secure
// channel handshake generates its per-session ephemeral keys separately.
type X25519KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateX25519KeyPair creates a new random X25519 keypair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive x25519 public key: %w", err)
	}
	var kp X25519KeyPair
	copy(kp.Private[:], priv[:])
	copy(kp.Public[:], pub)
	return &kp, nil
}

// X25519KeyPairFromSeed rebuilds a keypair from its 32-byte private scalar.
func X25519KeyPairFromSeed(seed []byte) (*X25519KeyPair, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("x25519 seed must be 32 bytes, got %d", len(seed))
	}
	pub, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive x25519 public key: %w", err)
	}
	var kp X25519KeyPair
	copy(kp.Private[:], seed)
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret computes the X25519 shared secret with a peer's public key.
func (kp *X25519KeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 agreement: %w", err)
	}
	return secret, nil
}

// B64 encodes raw key bytes as standard base64, the canonical identifier
// form used throughout the wire formats and data model.
func B64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// B64Decode decodes a standard base64 string back to raw bytes.
func B64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 key: %w", err)
	}
	return b, nil
}

// NodeID returns the 12-character display prefix of a base64-encoded
// signing public key ("for display only").
func NodeID(signPubB64 string) string {
	if len(signPubB64) <= 12 {
		return signPubB64
	}
	return signPubB64[:12]
}
