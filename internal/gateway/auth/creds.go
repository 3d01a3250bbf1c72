package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Credential material sizing. The secret backs HMAC request signing, the
// passphrase is a second presented factor.
const (
	secretBytes     = 32 // 256-bit
	passphraseBytes = 16 // 128-bit
)

// Material is freshly generated credential material. Secret and passphrase
// exist in plaintext only here and in the single creation/rotation response.
type Material struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Generate produces a new credential: uuid key, base64url secret, hex
// passphrase.
func Generate() (Material, error) {
	sec := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, sec); err != nil {
		return Material{}, errors.Wrap(err, "auth: generate secret")
	}
	pass := make([]byte, passphraseBytes)
	if _, err := io.ReadFull(rand.Reader, pass); err != nil {
		return Material{}, errors.Wrap(err, "auth: generate passphrase")
	}
	return Material{
		APIKey:     uuid.NewString(),
		Secret:     base64.URLEncoding.EncodeToString(sec),
		Passphrase: hex.EncodeToString(pass),
	}, nil
}

// NewSecret returns only fresh secret material, for rotation.
func NewSecret() (string, error) {
	sec := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, sec); err != nil {
		return "", errors.Wrap(err, "auth: generate secret")
	}
	return base64.URLEncoding.EncodeToString(sec), nil
}

// LoadMasterKey parses the 32-byte credential master key from its env value,
// accepting base64 or hex (0x prefix allowed).
func LoadMasterKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("auth: master key is required (32 bytes, base64 or hex)")
	}
	// 64 个 hex 字符同时也是合法 base64，先按解码后长度判别
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, fmt.Errorf("auth: master key must be 32 bytes, base64 or hex")
}

// EncryptSecret seals the api secret for storage: base64(nonce|ciphertext).
// The secret must stay recoverable server-side because L2 request signatures
// are HMACs keyed by it.
func EncryptSecret(masterKey []byte, secret string) (string, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// DecryptSecret opens a value produced by EncryptSecret.
func DecryptSecret(masterKey []byte, enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("auth: ciphertext too short")
	}
	pt, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// PassphraseDigest returns the keyed digest stored instead of the passphrase.
func PassphraseDigest(masterKey []byte, passphrase string) string {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(passphrase))
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckPassphrase compares a presented passphrase against the stored digest
// in constant time.
func CheckPassphrase(masterKey []byte, passphrase string, digest string) bool {
	expected := PassphraseDigest(masterKey, passphrase)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(digest)))
}
