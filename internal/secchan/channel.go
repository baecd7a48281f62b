package secchan

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/pkg/crypto"
)

func generateEphemeral() (pub [32]byte, priv [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return pub, priv, fmt.Errorf("generate ephemeral key: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, fmt.Errorf("derive ephemeral public key: %w", err)
	}
	copy(pub[:], p)
	return pub, priv, nil
}

func x25519Shared(priv, peerPub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 agreement: %w", err)
	}
	return secret, nil
}

// Session is an established secure channel: a pair of directional
// ChaCha20-Poly1305 keys plus per-direction nonce prefixes and strictly
// monotonic counters.
type Session struct {
	SelfSignPub, SelfEncPub string
	PeerSignPub, PeerEncPub string

	sendKey, recvKey                 []byte
	noncePrefixSend, noncePrefixRecv []byte
	sendCtr, recvCtr                 uint64
}

type record struct {
	Ctr uint64 `json:"ctr"`
	CT  string `json:"ct"`
}

func nonceFor(prefix []byte, ctr uint64) []byte {
	n := make([]byte, 0, chacha20poly1305.NonceSize)
	n = append(n, prefix...)
	var ctrBuf [8]byte
	binary.BigEndian.PutUint64(ctrBuf[:], ctr)
	n = append(n, ctrBuf[:]...)
	return n
}

func aadFor(ctr uint64) []byte {
	aad := []byte(Proto + "|")
	var ctrBuf [8]byte
	binary.BigEndian.PutUint64(ctrBuf[:], ctr)
	return append(aad, ctrBuf[:]...)
}

// Seal encrypts obj (marshaled as canonical JSON) as the next outbound
// record, advancing the send counter.
func (s *Session) Seal(obj any) ([]byte, error) {
	pt, err := crypto.Canonical(obj)
	if err != nil {
		return nil, fmt.Errorf("canonicalize record payload: %w", err)
	}
	aead, err := chacha20poly1305.New(s.sendKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	ctr := s.sendCtr
	s.sendCtr++
	nonce := nonceFor(s.noncePrefixSend, ctr)
	ct := aead.Seal(nil, nonce, pt, aadFor(ctr))
	env := record{Ctr: ctr, CT: crypto.B64(ct)}
	return json.Marshal(env)
}

// Open decrypts the next inbound record into v, enforcing that its
// counter exactly matches the expected next receive counter (no replay,
// no reordering, strict monotonic counter enforcement.
func (s *Session) Open(envBytes []byte, v any) error {
	var env record
	if err := json.Unmarshal(envBytes, &env); err != nil {
		return lberr.Protocol("malformed channel record", err)
	}
	if env.Ctr != s.recvCtr {
		return lberr.Protocolf("unexpected record counter %d (expected %d)", env.Ctr, s.recvCtr)
	}
	s.recvCtr++

	ct, err := crypto.B64Decode(env.CT)
	if err != nil {
		return lberr.Protocol("malformed record ciphertext", err)
	}
	aead, err := chacha20poly1305.New(s.recvKey)
	if err != nil {
		return fmt.Errorf("init aead: %w", err)
	}
	nonce := nonceFor(s.noncePrefixRecv, env.Ctr)
	pt, err := aead.Open(nil, nonce, ct, aadFor(env.Ctr))
	if err != nil {
		return lberr.Integrity("channel record authentication failed", err)
	}
	if err := json.Unmarshal(pt, v); err != nil {
		return lberr.Protocol("malformed decrypted record payload", err)
	}
	return nil
}
