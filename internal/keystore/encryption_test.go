package keystore

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, keySize)
	password := []byte("correct horse battery staple")

	enc, err := Encrypt(key, password)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !IsEncrypted(enc) {
		t.Fatal("encrypted output should carry the LBK1 magic")
	}

	dec, err := Decrypt(enc, password)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, key) {
		t.Fatal("decrypted key should match original")
	}
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, keySize)
	enc, err := Encrypt(key, []byte("right"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(enc, []byte("wrong")); err == nil {
		t.Fatal("expected decrypt to fail with wrong password")
	}
}

func TestDecryptRawKeyBackwardsCompat(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, keySize)
	dec, err := Decrypt(raw, []byte("unused"))
	if err != nil {
		t.Fatalf("decrypt raw key: %v", err)
	}
	if !bytes.Equal(dec, raw) {
		t.Fatal("raw key without LBK1 magic should pass through unchanged")
	}
}

func TestEncryptRejectsWrongKeySize(t *testing.T) {
	if _, err := Encrypt([]byte("too short"), []byte("pw")); err == nil {
		t.Fatal("expected error for non-32-byte key")
	}
}
