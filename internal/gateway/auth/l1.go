package auth

import (
	"crypto/ed25519"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/catallaxyz/gateway/pkg/solana"
)

// Signature schemes accepted by the L1 verifier. The wallet picks the scheme,
// the server only checks the proof.
const (
	// SignatureTypeEd25519 is the native ed25519 message signature
	// (walletAddress is a base58 32-byte pubkey).
	SignatureTypeEd25519 = 0
	// SignatureTypeEIP712 is an EVM wallet signing the ClobAuth typed data
	// (walletAddress is a 0x address).
	SignatureTypeEIP712 = 1
)

// AttestationMessage is the fixed human-readable line wallets sign. 与客户端
// SDK 保持一字不差，否则所有签名都会校验失败。
const AttestationMessage = "This message attests that I control the given wallet"

// EIP-712 domain shared with the client SDK.
const (
	ClobDomainName = "ClobAuthDomain"
	ClobVersion    = "1"
)

// L1Payload is the bootstrap proof: the signed binding of a wallet address to
// a (timestamp, nonce) pair.
type L1Payload struct {
	WalletAddress string
	Timestamp     int64
	Nonce         int64
	Signature     string
	SignatureType int
}

// ErrBadSignature is returned for any proof that does not verify. Callers map
// it to UNAUTHORIZED without detail.
var ErrBadSignature = errors.New("auth: signature verification failed")

// CanonicalMessage builds the exact text an ed25519 wallet signs.
func CanonicalMessage(address string, timestamp int64, nonce int64) []byte {
	msg := fmt.Sprintf("%s\nAddress: %s\nTimestamp: %d\nNonce: %d",
		AttestationMessage, address, timestamp, nonce)
	return []byte(msg)
}

// VerifyL1 checks the wallet-signature bootstrap proof with the wallet's
// native scheme.
func VerifyL1(p L1Payload, chainID int64) error {
	switch p.SignatureType {
	case SignatureTypeEd25519:
		return verifyEd25519(p)
	case SignatureTypeEIP712:
		return verifyEIP712(p, chainID)
	default:
		return errors.Errorf("auth: unsupported signature type %d", p.SignatureType)
	}
}

func verifyEd25519(p L1Payload) error {
	pub, err := solana.ParsePubkey(p.WalletAddress)
	if err != nil {
		return errors.Wrap(ErrBadSignature, "bad wallet address")
	}
	sig, err := base58.Decode(strings.TrimSpace(p.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	msg := CanonicalMessage(p.WalletAddress, p.Timestamp, p.Nonce)
	if !ed25519.Verify(pub[:], msg, sig) {
		return ErrBadSignature
	}
	return nil
}

// clobAuthTypedData mirrors the client's ClobAuth struct; the recovered signer
// must equal the claimed address.
func clobAuthTypedData(address string, timestamp int64, nonce int64, chainID int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    ClobDomainName,
			Version: ClobVersion,
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: map[string]interface{}{
			"address":   address,
			"timestamp": fmt.Sprintf("%d", timestamp),
			"nonce":     big.NewInt(nonce),
			"message":   AttestationMessage,
		},
	}
}

func verifyEIP712(p L1Payload, chainID int64) error {
	if !common.IsHexAddress(p.WalletAddress) {
		return errors.Wrap(ErrBadSignature, "bad wallet address")
	}
	claimed := common.HexToAddress(p.WalletAddress)

	typedData := clobAuthTypedData(claimed.Hex(), p.Timestamp, p.Nonce, chainID)
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return errors.Wrap(err, "auth: hash domain")
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return errors.Wrap(err, "auth: hash message")
	}
	rawData := []byte("\x19\x01")
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	hash := ethcrypto.Keccak256Hash(rawData)

	sigHex := strings.TrimPrefix(strings.TrimSpace(p.Signature), "0x")
	sig := common.FromHex("0x" + sigHex)
	if len(sig) != 65 {
		return ErrBadSignature
	}
	// 钱包侧 v 常见为 27/28，ecrecover 需要 0/1
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return ErrBadSignature
	}
	if ethcrypto.PubkeyToAddress(*pub) != claimed {
		return ErrBadSignature
	}
	return nil
}
