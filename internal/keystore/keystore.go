package keystore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// fileMode restricts key material to owner-only access.
const fileMode = 0600

// Identity holds a node's long-lived signing and key-agreement keypairs.
type Identity struct {
	Signing *crypto.SigningKeyPair
	Enc     *crypto.X25519KeyPair
}

// SignPubB64 returns the base64 signing public key, the canonical node
// identifier.
func (id *Identity) SignPubB64() string {
	return crypto.B64(id.Signing.Public)
}

// EncPubB64 returns the base64 X25519 public key.
func (id *Identity) EncPubB64() string {
	return crypto.B64(id.Enc.Public[:])
}

// NodeID returns the 12-character display prefix of the signing public key.
func (id *Identity) NodeID() string {
	return crypto.NodeID(id.SignPubB64())
}

// Sign signs msg with the node's long-lived Ed25519 signing key, so
// Identity satisfies secchan.Identity.
func (id *Identity) Sign(msg []byte) []byte {
	return id.Signing.Sign(msg)
}

// Keystore owns the on-disk signing.key and encryption.key files under a
// node's keys/ directory.
type Keystore struct {
	dir      string
	password []byte // nil = files stored as raw key bytes, unencrypted
}

// Open returns a Keystore rooted at dir, creating the directory if
// necessary. password may be nil to store keys unencrypted (raw 32
// bytes), for backwards compatibility with unencrypted key files.
func Open(dir string, password []byte) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{dir: dir, password: password}, nil
}

func (ks *Keystore) signingPath() string { return filepath.Join(ks.dir, "signing.key") }
func (ks *Keystore) encPath() string     { return filepath.Join(ks.dir, "encryption.key") }

// LoadOrCreate loads the node's identity from disk, generating and
// persisting a fresh one if no key files exist yet.
func (ks *Keystore) LoadOrCreate() (*Identity, error) {
	if _, err := os.Stat(ks.signingPath()); os.IsNotExist(err) {
		return ks.Create()
	}
	return ks.Load()
}

// Create generates a fresh identity and persists both key files.
func (ks *Keystore) Create() (*Identity, error) {
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	enc, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	id := &Identity{Signing: signing, Enc: enc}
	if err := ks.save(id); err != nil {
		return nil, err
	}
	return id, nil
}

// Load reads and decrypts the identity from disk.
func (ks *Keystore) Load() (*Identity, error) {
	signSeed, err := ks.readKeyFile(ks.signingPath())
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	signing, err := crypto.SigningKeyPairFromSeed(signSeed)
	if err != nil {
		return nil, err
	}

	encSeed, err := ks.readKeyFile(ks.encPath())
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	enc, err := crypto.X25519KeyPairFromSeed(encSeed)
	if err != nil {
		return nil, err
	}

	return &Identity{Signing: signing, Enc: enc}, nil
}

func (ks *Keystore) save(id *Identity) error {
	if err := ks.writeKeyFile(ks.signingPath(), id.Signing.Seed()); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	if err := ks.writeKeyFile(ks.encPath(), id.Enc.Private[:]); err != nil {
		return fmt.Errorf("write encryption key: %w", err)
	}
	return nil
}

func (ks *Keystore) writeKeyFile(path string, key []byte) error {
	data := key
	if ks.password != nil {
		enc, err := Encrypt(key, ks.password)
		if err != nil {
			return err
		}
		data = enc
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}

func (ks *Keystore) readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !IsEncrypted(data) {
		return Decrypt(data, nil)
	}
	if ks.password == nil {
		return nil, fmt.Errorf("key file %s is encrypted but no password was supplied", path)
	}
	return Decrypt(data, ks.password)
}
