package solana

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLen is the ed25519 public key length used for wallet addresses,
// market ids and the settlement authority.
const PubkeyLen = 32

// ParsePubkey decodes a base58 wallet key and enforces the 32-byte length.
func ParsePubkey(s string) ([PubkeyLen]byte, error) {
	var out [PubkeyLen]byte
	b, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("invalid base58 key: %w", err)
	}
	if len(b) != PubkeyLen {
		return out, fmt.Errorf("key must decode to %d bytes, got %d", PubkeyLen, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// IsValidPubkey reports whether s parses as a 32-byte base58 key.
func IsValidPubkey(s string) bool {
	_, err := ParsePubkey(s)
	return err == nil
}

// EncodePubkey renders a 32-byte key in base58 text form.
func EncodePubkey(k [PubkeyLen]byte) string {
	return base58.Encode(k[:])
}
