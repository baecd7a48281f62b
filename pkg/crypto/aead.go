package crypto

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// PackageEnvelope is the JSON-serializable ChaCha20-Poly1305 envelope
// referenced by offer_create artifacts ("encrypted packages ...
// with an embedded nonce and AAD").
type PackageEnvelope struct {
	Version int    `json:"v"`
	Cipher  string `json:"cipher"`
	Nonce   string `json:"nonce"`
	CT      string `json:"ct"`
	AAD     string `json:"aad"`
}

// SealPackage encrypts plaintext with a fresh random key and nonce,
// producing a JSON package envelope (fields in PackageEnvelope's
// declaration order, not canonical key order). The symmetric key is
// returned separately; it is never stored in the envelope and is handed
// to a buyer out-of-chain after purchase.
func SealPackage(plaintext, aad []byte) (envelope []byte, key []byte, err error) {
	key = make([]byte, chacha20poly1305.KeySize)
	if _, err = rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generate package key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("create package cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate package nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	env := PackageEnvelope{
		Version: 1,
		Cipher:  "chacha20poly1305",
		Nonce:   B64(nonce),
		CT:      B64(ct),
		AAD:     B64(aad),
	}
	envelope, err = json.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal package envelope: %w", err)
	}
	return envelope, key, nil
}

// OpenPackage decrypts an envelope produced by SealPackage given the key
// delivered to the buyer. The AAD is taken from the envelope itself.
func OpenPackage(envelope, key []byte) ([]byte, error) {
	var env PackageEnvelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return nil, fmt.Errorf("invalid package envelope: %w", err)
	}
	if env.Cipher != "chacha20poly1305" {
		return nil, fmt.Errorf("unsupported package cipher %q", env.Cipher)
	}
	nonce, err := B64Decode(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid package nonce: %w", err)
	}
	ct, err := B64Decode(env.CT)
	if err != nil {
		return nil, fmt.Errorf("invalid package ciphertext: %w", err)
	}
	aad, err := B64Decode(env.AAD)
	if err != nil {
		return nil, fmt.Errorf("invalid package aad: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create package cipher: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	return pt, nil
}
