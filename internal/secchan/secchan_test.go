package secchan

import (
	"net"
	"testing"

	"github.com/Klingon-tech/lbm/pkg/crypto"
)

type testIdentity struct {
	signing *crypto.SigningKeyPair
	enc     *crypto.X25519KeyPair
}

func newTestIdentity(t *testing.T) *testIdentity {
	t.Helper()
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	enc, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("generate enc key: %v", err)
	}
	return &testIdentity{signing: signing, enc: enc}
}

func (t *testIdentity) SignPubB64() string { return crypto.B64(t.signing.Public) }
func (t *testIdentity) EncPubB64() string  { return crypto.B64(t.enc.Public[:]) }
func (t *testIdentity) Sign(msg []byte) []byte { return t.signing.Sign(msg) }

func newPipePair() (clientSide, serverSide net.Conn) {
	return net.Pipe()
}

func TestHandshakeProducesMatchingSessionKeys(t *testing.T) {
	clientID := newTestIdentity(t)
	serverID := newTestIdentity(t)
	clientConn, serverConn := newPipePair()

	type result struct {
		sess *Session
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		sess, err := ServerHandshake(serverConn, serverID, DefaultMaxFrameBytes)
		serverCh <- result{sess, err}
	}()

	clientSess, err := ClientHandshake(clientConn, clientID, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	serverResult := <-serverCh
	if serverResult.err != nil {
		t.Fatalf("server handshake: %v", serverResult.err)
	}
	serverSess := serverResult.sess

	if clientSess.PeerSignPub != serverID.SignPubB64() {
		t.Fatalf("client did not learn server sign_pub")
	}
	if serverSess.PeerSignPub != clientID.SignPubB64() {
		t.Fatalf("server did not learn client sign_pub")
	}

	// client send key must equal server recv key and vice versa.
	msg := map[string]any{"hello": "world"}
	sealed, err := clientSess.Seal(msg)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var got map[string]any
	if err := serverSess.Open(sealed, &got); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got["hello"] != "world" {
		t.Fatalf("decrypted payload mismatch: %+v", got)
	}
}

func TestChannelRejectsOutOfOrderCounter(t *testing.T) {
	clientID := newTestIdentity(t)
	serverID := newTestIdentity(t)
	clientConn, serverConn := newPipePair()

	serverCh := make(chan *Session, 1)
	go func() {
		sess, err := ServerHandshake(serverConn, serverID, DefaultMaxFrameBytes)
		if err != nil {
			serverCh <- nil
			return
		}
		serverCh <- sess
	}()
	clientSess, err := ClientHandshake(clientConn, clientID, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	serverSess := <-serverCh
	if serverSess == nil {
		t.Fatalf("server handshake failed")
	}

	first, _ := clientSess.Seal(map[string]any{"n": 1})
	second, _ := clientSess.Seal(map[string]any{"n": 2})

	var v map[string]any
	if err := serverSess.Open(second, &v); err == nil {
		t.Fatalf("expected out-of-order record to be rejected")
	}
	if err := serverSess.Open(first, &v); err != nil {
		t.Fatalf("expected in-order record to succeed, got %v", err)
	}
}
