// Package keystore manages a node's long-lived signing and key-agreement
// keypairs on disk, with optional password-at-rest encryption.
package keystore

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// lbk1Magic is the 4-byte tag identifying an encrypted key file.
var lbk1Magic = [4]byte{'L', 'B', 'K', '1'}

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Encrypt produces the LBK1 encrypted key file format for a 32-byte key:
// magic(4) | salt(16) | nonce(12) | ChaCha20-Poly1305 ciphertext, with AAD
// equal to magic+salt.
func Encrypt(key, password []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key material must be %d bytes, got %d", keySize, len(key))
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	derived, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer zero(derived)

	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aad := aadFor(salt)
	ct := aead.Seal(nil, nonce, key, aad)

	out := make([]byte, 0, 4+saltSize+nonceSize+len(ct))
	out = append(out, lbk1Magic[:]...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt reads a file written by Encrypt and recovers the 32-byte key.
// A file lacking the LBK1 magic is treated as a raw 32-byte key for
// backwards compatibility.
func Decrypt(data, password []byte) ([]byte, error) {
	if len(data) == keySize && !bytes.HasPrefix(data, lbk1Magic[:]) {
		raw := make([]byte, keySize)
		copy(raw, data)
		return raw, nil
	}
	if len(data) < 4+saltSize+nonceSize || !bytes.Equal(data[:4], lbk1Magic[:]) {
		return nil, fmt.Errorf("not an LBK1 key file and not %d raw bytes", keySize)
	}

	salt := data[4 : 4+saltSize]
	nonce := data[4+saltSize : 4+saltSize+nonceSize]
	ct := data[4+saltSize+nonceSize:]

	derived, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer zero(derived)

	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aad := aadFor(salt)
	plain, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt key file: %w", err)
	}
	return plain, nil
}

// IsEncrypted reports whether data carries the LBK1 magic tag.
func IsEncrypted(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], lbk1Magic[:])
}

func aadFor(salt []byte) []byte {
	aad := make([]byte, 0, 4+len(salt))
	aad = append(aad, lbk1Magic[:]...)
	aad = append(aad, salt...)
	return aad
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
