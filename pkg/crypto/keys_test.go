package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello group")
	sig := kp.Sign(msg)
	if !Verify(kp.Public, msg, sig) {
		t.Fatal("signature should verify")
	}
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatal("signature should not verify over different message")
	}
}

func TestSigningKeyPairFromSeedDeterministic(t *testing.T) {
	kp1, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	kp2, err := SigningKeyPairFromSeed(kp1.Seed())
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if string(kp1.Public) != string(kp2.Public) {
		t.Fatal("rebuilt keypair should have the same public key")
	}
}

func TestX25519SharedSecretAgrees(t *testing.T) {
	a, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	secretA, err := a.SharedSecret(b.Public)
	if err != nil {
		t.Fatalf("shared secret a: %v", err)
	}
	secretB, err := b.SharedSecret(a.Public)
	if err != nil {
		t.Fatalf("shared secret b: %v", err)
	}
	if string(secretA) != string(secretB) {
		t.Fatal("shared secrets should agree")
	}
}

func TestNodeIDTruncatesToTwelveChars(t *testing.T) {
	id := NodeID("QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVowMTIzNDU2Nzg5")
	if len(id) != 12 {
		t.Fatalf("expected 12-char node id, got %d: %q", len(id), id)
	}
}
