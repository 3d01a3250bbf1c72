package server

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/catallaxyz/gateway/internal/gateway/auth"
	"github.com/catallaxyz/gateway/pkg/logger"
)

type createAPIKeyRequest struct {
	WalletAddress string  `json:"walletAddress"`
	Nonce         int64   `json:"nonce"`
	SignatureType int     `json:"signatureType"`
	FunderAddress *string `json:"funderAddress,omitempty"`
}

type apiKeyResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret,omitempty"`
	Passphrase string `json:"passphrase"`
	Message    string `json:"message,omitempty"`
}

// handleCreateAPIKey is the L1 bootstrap: a wallet-signed proof either
// returns the existing credential for (user, nonce) or mints a new one.
// Issuance is idempotent per (user_id, l1_nonce); the secret is returned
// exactly once, on the call that created the row. The passphrase is not
// single-reveal: repeat bootstraps decrypt and return it again.
func (s *Server) handleCreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		writeError(c, 400, CodeValidation, "invalid json body")
		return
	}
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	if req.WalletAddress == "" {
		writeError(c, 400, CodeValidation, "walletAddress is required")
		return
	}

	headerAddr := strings.TrimSpace(c.GetHeader(auth.HeaderAddress))
	sig := strings.TrimSpace(c.GetHeader(auth.HeaderSignature))
	tsRaw := strings.TrimSpace(c.GetHeader(auth.HeaderTimestamp))
	if headerAddr == "" || sig == "" || tsRaw == "" {
		writeError(c, 400, CodeValidation, "missing signature headers")
		return
	}
	if !strings.EqualFold(headerAddr, req.WalletAddress) {
		writeError(c, 400, CodeValidation, "header address does not match body walletAddress")
		return
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		writeError(c, 400, CodeValidation, "invalid timestamp header")
		return
	}
	if !s.timestampFresh(ts) {
		writeError(c, 401, CodeUnauthorized, "stale timestamp")
		return
	}

	if !s.keyLimit.Allow(strings.ToLower(req.WalletAddress)) {
		writeError(c, 429, CodeRateLimited, "too many key requests for this wallet")
		return
	}

	if err := auth.VerifyL1(auth.L1Payload{
		WalletAddress: req.WalletAddress,
		Timestamp:     ts,
		Nonce:         req.Nonce,
		Signature:     sig,
		SignatureType: req.SignatureType,
	}, s.cfg.ChainID); err != nil {
		writeError(c, 401, CodeUnauthorized, "signature verification failed")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	user, err := s.getUserByWallet(ctx, req.WalletAddress)
	if err != nil {
		writeError(c, 500, CodeServerError, "user lookup failed")
		return
	}
	if user == nil && s.cfg.AutoProvision {
		user, err = s.insertUser(ctx, req.WalletAddress)
		if err != nil {
			writeError(c, 500, CodeServerError, "user provisioning failed")
			return
		}
	}
	if user == nil {
		writeError(c, 404, CodeNotFound, "no user for this wallet")
		return
	}

	existing, err := s.getCredentialByUserNonce(ctx, user.ID, req.Nonce)
	if err != nil {
		writeError(c, 500, CodeServerError, "credential lookup failed")
		return
	}
	if existing != nil {
		passphrase, decErr := auth.DecryptSecret(s.masterKey, existing.PassphraseEnc)
		if decErr != nil {
			writeError(c, 500, CodeServerError, "credential decode failed")
			return
		}
		writeJSON(c, 200, apiKeyResponse{
			APIKey:     existing.APIKey,
			Passphrase: passphrase,
			Message:    "credential already exists for this nonce; the secret is single-reveal, rotate to obtain a fresh one",
		})
		return
	}

	material, err := auth.Generate()
	if err != nil {
		writeError(c, 500, CodeServerError, "credential generation failed")
		return
	}
	secretEnc, err := auth.EncryptSecret(s.masterKey, material.Secret)
	if err != nil {
		writeError(c, 500, CodeServerError, "credential generation failed")
		return
	}
	passphraseEnc, err := auth.EncryptSecret(s.masterKey, material.Passphrase)
	if err != nil {
		writeError(c, 500, CodeServerError, "credential generation failed")
		return
	}

	now := time.Now()
	cred := Credential{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		WalletAddress:    user.WalletAddress,
		FunderAddress:    req.FunderAddress,
		APIKey:           material.APIKey,
		APISecretEnc:     secretEnc,
		PassphraseEnc:    passphraseEnc,
		PassphraseDigest: auth.PassphraseDigest(s.masterKey, material.Passphrase),
		SignatureType:    req.SignatureType,
		L1Nonce:          req.Nonce,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.insertCredential(ctx, cred); err != nil {
		// 并发同 nonce 竞争：唯一索引保证只有一行落库，输家返回赢家的 key
		winner, lookupErr := s.getCredentialByUserNonce(ctx, user.ID, req.Nonce)
		if lookupErr == nil && winner != nil {
			passphrase, decErr := auth.DecryptSecret(s.masterKey, winner.PassphraseEnc)
			if decErr != nil {
				writeError(c, 500, CodeServerError, "credential decode failed")
				return
			}
			writeJSON(c, 200, apiKeyResponse{
				APIKey:     winner.APIKey,
				Passphrase: passphrase,
				Message:    "credential already exists for this nonce; the secret is single-reveal, rotate to obtain a fresh one",
			})
			return
		}
		writeError(c, 500, CodeServerError, "credential insert failed")
		return
	}

	logger.WithField("user", user.ID).Infof("api credential issued")
	writeJSON(c, 200, apiKeyResponse{
		APIKey:     material.APIKey,
		Secret:     material.Secret,
		Passphrase: material.Passphrase,
	})
}

// handleRevokeAPIKey deletes the session's credential. Replays are naturally
// idempotent: the session guard rejects them once the row is gone.
func (s *Server) handleRevokeAPIKey(c *gin.Context) {
	cred := sessionCredential(c)
	if cred == nil {
		writeError(c, 401, CodeUnauthorized, "no session")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.deleteCredential(ctx, cred.ID); err != nil {
		writeError(c, 500, CodeServerError, "revoke failed")
		return
	}
	logger.WithField("user", cred.UserID).Infof("api credential revoked")
	writeJSON(c, 200, gin.H{"success": true})
}

// handleRotateAPIKey regenerates only the secret; key and passphrase are
// preserved. The previous secret is invalid the moment the row updates —
// there is no grace window.
func (s *Server) handleRotateAPIKey(c *gin.Context) {
	cred := sessionCredential(c)
	if cred == nil {
		writeError(c, 401, CodeUnauthorized, "no session")
		return
	}

	secret, err := auth.NewSecret()
	if err != nil {
		writeError(c, 500, CodeServerError, "secret generation failed")
		return
	}
	secretEnc, err := auth.EncryptSecret(s.masterKey, secret)
	if err != nil {
		writeError(c, 500, CodeServerError, "secret generation failed")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.updateCredentialSecret(ctx, cred.ID, secretEnc); err != nil {
		writeError(c, 500, CodeServerError, "rotate failed")
		return
	}

	passphrase, err := auth.DecryptSecret(s.masterKey, cred.PassphraseEnc)
	if err != nil {
		writeError(c, 500, CodeServerError, "credential decode failed")
		return
	}

	logger.WithField("user", cred.UserID).Infof("api credential rotated")
	writeJSON(c, 200, apiKeyResponse{
		APIKey:     cred.APIKey,
		Secret:     secret,
		Passphrase: passphrase,
	})
}

// handleVerifySession echoes the resolved identity.
func (s *Server) handleVerifySession(c *gin.Context) {
	cred := sessionCredential(c)
	ac := sessionAuth(c)
	if cred == nil || !ac.IsWallet() {
		writeError(c, 401, CodeUnauthorized, "no session")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	user, err := s.getUserByID(ctx, cred.UserID)
	if err != nil || user == nil {
		writeError(c, 500, CodeServerError, "user lookup failed")
		return
	}

	writeJSON(c, 200, gin.H{
		"userId":        user.ID,
		"walletAddress": ac.Wallet,
		"createdAt":     cred.CreatedAt,
	})
}
