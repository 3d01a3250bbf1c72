package settlement

import (
	"crypto/ed25519"
	"encoding/json"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

var (
	// ErrNoKey means the settlement authority key was never loaded. The server
	// must treat this as a startup-fatal configuration error, never as a
	// per-request condition.
	ErrNoKey = errors.New("settlement: signer key not configured")

	// ErrStaleNonce means the requested nonce is not strictly greater than the
	// last nonce this signer authorized for the market.
	ErrStaleNonce = errors.New("settlement: nonce not strictly increasing for market")
)

// Signer holds the settlement authority keypair in process memory and signs
// validated fills. The key is never logged and never leaves the struct.
//
// The signer also tracks the last nonce it signed per market and refuses to
// re-sign old or repeated nonces. The on-chain program enforces sequential
// nonces itself, but a signer that re-issues authorizations for stale nonces
// would hand replay material to whoever asked; assume a single signer instance
// per settlement authority key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	mu         sync.Mutex
	lastNonces map[string]uint64 // market base58 -> last signed nonce
}

// NewSigner builds a signer from a 64-byte ed25519 private key
// (seed ‖ public key, the standard keypair file layout).
func NewSigner(keypair []byte) (*Signer, error) {
	if len(keypair) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("settlement: keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(keypair))
	}
	priv := ed25519.PrivateKey(keypair)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("settlement: cannot derive public key")
	}
	return &Signer{
		priv:       priv,
		pub:        pub,
		lastNonces: make(map[string]uint64),
	}, nil
}

// ParseKeypairJSON decodes the standard wallet keypair format: a JSON array of
// 64 byte values.
func ParseKeypairJSON(raw []byte) ([]byte, error) {
	var vals []int
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, errors.Wrap(err, "settlement: keypair must be a JSON byte array")
	}
	if len(vals) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("settlement: keypair array must have %d entries, got %d", ed25519.PrivateKeySize, len(vals))
	}
	out := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("settlement: keypair entry %d out of byte range", i)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// PublicKey returns the settlement authority public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// PublicKeyBase58 returns the authority pubkey in the text form clients embed
// in the on-chain instruction.
func (s *Signer) PublicKeyBase58() string {
	return base58.Encode(s.pub)
}

// SignFill validates the fill, checks nonce monotonicity for the market and
// returns a detached signature over the canonical message bytes.
func (s *Signer) SignFill(market [32]byte, nonce uint64, fill Fill) ([]byte, error) {
	if s == nil || len(s.priv) == 0 {
		return nil, ErrNoKey
	}
	if err := fill.Validate(); err != nil {
		return nil, err
	}

	marketKey := base58.Encode(market[:])
	s.mu.Lock()
	if last, ok := s.lastNonces[marketKey]; ok && nonce <= last {
		s.mu.Unlock()
		return nil, ErrStaleNonce
	}
	s.lastNonces[marketKey] = nonce
	s.mu.Unlock()

	msg := EncodeMessage(market, nonce, fill)
	return ed25519.Sign(s.priv, msg), nil
}
