package secchan

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// Proto identifies the secure channel wire protocol version.
const Proto = "lb-p2p-v1"

// MaxClockDriftMs bounds how stale or futuristic a handshake timestamp may
// be.
const MaxClockDriftMs = 5 * 60 * 1000

// Identity is the minimal keypair surface the handshake needs. The
// handshake always generates a fresh X25519 ephemeral per session;
// the long-lived enc key is only ever advertised, never used directly for
// key agreement.
type Identity interface {
	SignPubB64() string
	EncPubB64() string
	Sign(msg []byte) []byte
}

// handshakeMsg is the wire shape of both hello and welcome messages; the
// unused field is simply empty/omitted for hello.
type handshakeMsg struct {
	Type      string `json:"type"`
	V         string `json:"v"`
	SignPub   string `json:"sign_pub"`
	EncPub    string `json:"enc_pub"`
	EphPub    string `json:"eph_pub"`
	Nonce     string `json:"nonce"`
	TsMs      int64  `json:"ts"`
	HelloHash string `json:"hello_hash,omitempty"`
	Sig       string `json:"sig,omitempty"`
}

func (m handshakeMsg) canonicalUnsigned() ([]byte, error) {
	unsigned := m
	unsigned.Sig = ""
	return canonicalHandshake(unsigned)
}

// canonicalHandshake serializes m the way the wire format requires:
// sorted keys, compact separators, and omitting empty optional fields,
// achieved via the same canonical-JSON encoder used for chain objects.
func canonicalHandshake(m handshakeMsg) ([]byte, error) {
	return crypto.Canonical(m)
}

func signMsg(id Identity, m handshakeMsg) (handshakeMsg, []byte, error) {
	payload, err := m.canonicalUnsigned()
	if err != nil {
		return handshakeMsg{}, nil, err
	}
	m.Sig = crypto.B64(id.Sign(payload))
	full, err := canonicalHandshake(m)
	return m, full, err
}

func verifySigned(m handshakeMsg) error {
	if m.Sig == "" {
		return lberr.Protocol("handshake message missing sig", nil)
	}
	pub, err := crypto.B64Decode(m.SignPub)
	if err != nil || len(pub) != 32 {
		return lberr.Protocol("handshake message has malformed sign_pub", err)
	}
	sig, err := crypto.B64Decode(m.Sig)
	if err != nil {
		return lberr.Protocol("handshake message has malformed sig", err)
	}
	payload, err := m.canonicalUnsigned()
	if err != nil {
		return err
	}
	if !crypto.Verify(pub, payload, sig) {
		return lberr.Protocol("handshake signature does not verify", nil)
	}
	return nil
}

func validateTimestamp(tsMs int64) error {
	nowMs := time.Now().UnixMilli()
	if tsMs > nowMs+MaxClockDriftMs {
		return lberr.Protocolf("handshake timestamp %d too far in the future", tsMs)
	}
	if tsMs < nowMs-MaxClockDriftMs {
		return lberr.Protocolf("handshake timestamp %d too old", tsMs)
	}
	return nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate handshake nonce: %w", err)
	}
	return crypto.B64(buf), nil
}

// deriveKeys runs HKDF-SHA256 over the ephemeral shared secret, salted by
// the transcript hash, producing 64 bytes split into two directional
// 32-byte keys. The two 4-byte nonce prefixes are taken from the
// transcript hash itself, not from this output.
func deriveKeys(shared, transcriptHash []byte) (km [64]byte, err error) {
	r := hkdf.New(sha256.New, shared, transcriptHash, []byte(Proto))
	if _, err = io.ReadFull(r, km[:]); err != nil {
		return km, fmt.Errorf("hkdf expand: %w", err)
	}
	return km, nil
}

func transcriptHash(helloBytes, welcomeBytes []byte) []byte {
	h := sha256.New()
	h.Write(helloBytes)
	h.Write([]byte("|"))
	h.Write(welcomeBytes)
	sum := h.Sum(nil)
	return sum
}

// ClientHandshake performs the client side of the handshake over rw,
// returning the resulting Session.
func ClientHandshake(rw io.ReadWriter, id Identity, maxFrameBytes int) (*Session, error) {
	ephPub, ephPriv, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	hello := handshakeMsg{
		Type:    "hello",
		V:       Proto,
		SignPub: id.SignPubB64(),
		EncPub:  id.EncPubB64(),
		EphPub:  crypto.B64(ephPub[:]),
		Nonce:   nonce,
		TsMs:    time.Now().UnixMilli(),
	}
	signedHello, helloBytes, err := signMsg(id, hello)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(rw, helloBytes, maxFrameBytes); err != nil {
		return nil, err
	}

	welBytes, err := ReadFrame(rw, maxFrameBytes)
	if err != nil {
		return nil, err
	}
	var welcome handshakeMsg
	if err := json.Unmarshal(welBytes, &welcome); err != nil {
		return nil, lberr.Protocol("malformed welcome message", err)
	}
	if welcome.Type != "welcome" || welcome.V != Proto {
		return nil, lberr.Protocol("unexpected welcome message shape", nil)
	}
	if err := verifySigned(welcome); err != nil {
		return nil, err
	}
	if err := validateTimestamp(welcome.TsMs); err != nil {
		return nil, err
	}
	expectedHelloHash := crypto.SHA256Hex(helloBytes)
	if welcome.HelloHash != expectedHelloHash {
		return nil, lberr.Protocol("hello_hash mismatch", nil)
	}

	peerEphPub, err := crypto.B64Decode(welcome.EphPub)
	if err != nil || len(peerEphPub) != 32 {
		return nil, lberr.Protocol("malformed server eph_pub", err)
	}
	var peerEph [32]byte
	copy(peerEph[:], peerEphPub)
	shared, err := x25519Shared(ephPriv, peerEph)
	if err != nil {
		return nil, err
	}

	th := transcriptHash(helloBytes, welBytes)
	km, err := deriveKeys(shared, th)
	if err != nil {
		return nil, err
	}

	return &Session{
		SelfSignPub:     id.SignPubB64(),
		SelfEncPub:      id.EncPubB64(),
		PeerSignPub:     welcome.SignPub,
		PeerEncPub:      welcome.EncPub,
		sendKey:         bytesCopy(km[:32]),
		recvKey:         bytesCopy(km[32:]),
		noncePrefixSend: bytesCopy(th[:4]),
		noncePrefixRecv: bytesCopy(th[4:8]),
	}, nil
}

// ServerHandshake performs the server side of the handshake over rw,
// returning the resulting Session.
func ServerHandshake(rw io.ReadWriter, id Identity, maxFrameBytes int) (*Session, error) {
	helBytes, err := ReadFrame(rw, maxFrameBytes)
	if err != nil {
		return nil, err
	}
	var hello handshakeMsg
	if err := json.Unmarshal(helBytes, &hello); err != nil {
		return nil, lberr.Protocol("malformed hello message", err)
	}
	if hello.Type != "hello" || hello.V != Proto {
		return nil, lberr.Protocol("unexpected hello message shape", nil)
	}
	if err := verifySigned(hello); err != nil {
		return nil, err
	}
	if err := validateTimestamp(hello.TsMs); err != nil {
		return nil, err
	}

	ephPub, ephPriv, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	welcome := handshakeMsg{
		Type:      "welcome",
		V:         Proto,
		SignPub:   id.SignPubB64(),
		EncPub:    id.EncPubB64(),
		EphPub:    crypto.B64(ephPub[:]),
		Nonce:     nonce,
		TsMs:      time.Now().UnixMilli(),
		HelloHash: crypto.SHA256Hex(helBytes),
	}
	_, welBytes, err := signMsg(id, welcome)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(rw, welBytes, maxFrameBytes); err != nil {
		return nil, err
	}

	peerEphPub, err := crypto.B64Decode(hello.EphPub)
	if err != nil || len(peerEphPub) != 32 {
		return nil, lberr.Protocol("malformed client eph_pub", err)
	}
	var peerEph [32]byte
	copy(peerEph[:], peerEphPub)
	shared, err := x25519Shared(ephPriv, peerEph)
	if err != nil {
		return nil, err
	}

	th := transcriptHash(helBytes, welBytes)
	km, err := deriveKeys(shared, th)
	if err != nil {
		return nil, err
	}

	return &Session{
		SelfSignPub:     id.SignPubB64(),
		SelfEncPub:      id.EncPubB64(),
		PeerSignPub:     hello.SignPub,
		PeerEncPub:      hello.EncPub,
		sendKey:         bytesCopy(km[32:]),
		recvKey:         bytesCopy(km[:32]),
		noncePrefixSend: bytesCopy(th[4:8]),
		noncePrefixRecv: bytesCopy(th[:4]),
	}, nil
}

func bytesCopy(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
