package chain

import (
	"fmt"
	"time"

	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// zeroPrev is the sentinel `prev` value of a genesis block ("zero
// string at genesis").
const zeroPrev = "0000000000000000000000000000000000000000000000000000000000000000"

// MakeGenesis creates a signed height-0 block that installs creatorPub as
// the sole admin-member and seeds the default policy.
//
// group_id is defined as the hash of the canonicalized genesis block,
// which is itself a field of that block. MakeGenesis resolves this
// by hashing the block's content with group_id left unset to obtain the
// id, setting it, and only then computing the signature — so the
// signature and the stored block are mutually consistent and
// VerifySignature needs no genesis special-case.
func MakeGenesis(name, currency string, creator *crypto.SigningKeyPair, nowMs int64) (Block, error) {
	if name == "" {
		return Block{}, fmt.Errorf("group name must not be empty")
	}
	creatorPub := crypto.B64(creator.Public)

	b := Block{
		Height: 0,
		Prev:   zeroPrev,
		TsMs:   nowMs,
		Author: creatorPub,
		Txs: []Tx{{
			Kind:       KindGenesis,
			Name:       name,
			Currency:   currency,
			CreatorPub: creatorPub,
		}},
	}

	groupID, err := b.BlockID()
	if err != nil {
		return Block{}, fmt.Errorf("derive group id: %w", err)
	}
	b.GroupID = groupID

	if err := b.Sign(creator); err != nil {
		return Block{}, err
	}
	return b, nil
}

// nowMillis returns the current wall-clock time in Unix milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
