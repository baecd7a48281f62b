package chain

import (
	"fmt"

	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// Block is a signed, ordered record of transactions extending a group's
// chain.
type Block struct {
	GroupID string `json:"group_id,omitempty"`
	Height  uint64 `json:"height"`
	Prev    string `json:"prev"`
	TsMs    int64  `json:"ts_ms"`
	Author  string `json:"author"` // base64 Ed25519 signing public key
	Txs     []Tx   `json:"txs"`
	Sig     string `json:"sig,omitempty"`
}

// signingPayload returns the canonical encoding of b with Sig cleared:
// the Ed25519 signature is computed over the canonical encoding of the
// block without the signature field itself.
func (b Block) signingPayload() ([]byte, error) {
	unsigned := b
	unsigned.Sig = ""
	return crypto.Canonical(unsigned)
}

// Sign computes and sets b.Sig using signer, whose public key must equal
// b.Author.
func (b *Block) Sign(signer *crypto.SigningKeyPair) error {
	payload, err := b.signingPayload()
	if err != nil {
		return fmt.Errorf("compute signing payload: %w", err)
	}
	b.Sig = crypto.B64(signer.Sign(payload))
	return nil
}

// VerifySignature checks b.Sig against b.Author using the canonical
// unsigned payload.
func (b Block) VerifySignature() bool {
	payload, err := b.signingPayload()
	if err != nil {
		return false
	}
	authorPub, err := crypto.B64Decode(b.Author)
	if err != nil || len(authorPub) != 32 {
		return false
	}
	sig, err := crypto.B64Decode(b.Sig)
	if err != nil {
		return false
	}
	return crypto.Verify(authorPub, payload, sig)
}

// BlockID is the SHA-256 of the canonical signed block, used as the
// `prev` value of the following block and as the canonical block
// identifier.
func (b Block) BlockID() (string, error) {
	data, err := crypto.Canonical(b)
	if err != nil {
		return "", fmt.Errorf("canonicalize block: %w", err)
	}
	return crypto.SHA256Hex(data), nil
}
