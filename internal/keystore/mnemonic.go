package keystore

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// mnemonicEntropyBits yields a 24-word recovery phrase for the 32-byte
// signing key seed.
const mnemonicEntropyBits = 256

// BackupMnemonic encodes a node's signing key seed as a 24-word BIP-39
// recovery phrase, letting an operator write it down instead of the raw
// key file.
func BackupMnemonic(seed []byte) (string, error) {
	if len(seed) != 32 {
		return "", fmt.Errorf("signing seed must be 32 bytes, got %d", len(seed))
	}
	mnemonic, err := bip39.NewMnemonic(seed)
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic recovers the original 32-byte signing seed from a
// phrase produced by BackupMnemonic. Unlike a BIP-39 wallet seed, this is
// an exact decode of the entropy, not a PBKDF2 stretch, since the
// recovered bytes must feed back into SigningKeyPairFromSeed unchanged.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid recovery phrase")
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("decode mnemonic: %w", err)
	}
	if len(entropy) != mnemonicEntropyBits/8 {
		return nil, fmt.Errorf("unexpected entropy length %d", len(entropy))
	}
	return entropy, nil
}
