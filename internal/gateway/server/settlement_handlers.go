package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/catallaxyz/gateway/internal/gateway/settlement"
	"github.com/catallaxyz/gateway/pkg/logger"
	"github.com/catallaxyz/gateway/pkg/solana"
)

type fillInput struct {
	Maker       string `json:"maker"`
	Taker       string `json:"taker"`
	OutcomeType uint8  `json:"outcomeType"`
	Side        uint8  `json:"side"`
	Size        uint64 `json:"size"`
	Price       uint64 `json:"price"`
}

type settleRequest struct {
	Market string    `json:"market"`
	Nonce  uint64    `json:"nonce"`
	Fill   fillInput `json:"fill"`
}

// handleSettle validates a proposed fill and returns the settlement
// authority's detached ed25519 signature over the canonical message.
// Intended for the matching engine, not end users; when CLOB_SETTLER_TOKEN
// is configured the caller must present it as a bearer token.
func (s *Server) handleSettle(c *gin.Context) {
	if token := strings.TrimSpace(s.cfg.SettlerToken); token != "" {
		got := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if got != token {
			writeError(c, 401, CodeUnauthorized, "invalid settler token")
			return
		}
	}

	var req settleRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		writeError(c, 400, CodeValidation, "invalid json body")
		return
	}

	market, err := solana.ParsePubkey(req.Market)
	if err != nil {
		writeError(c, 400, CodeValidation, "invalid market pubkey")
		return
	}
	maker, err := solana.ParsePubkey(req.Fill.Maker)
	if err != nil {
		writeError(c, 400, CodeValidation, "invalid maker pubkey")
		return
	}
	taker, err := solana.ParsePubkey(req.Fill.Taker)
	if err != nil {
		writeError(c, 400, CodeValidation, "invalid taker pubkey")
		return
	}

	fill := settlement.Fill{
		Maker:       maker,
		Taker:       taker,
		OutcomeType: req.Fill.OutcomeType,
		Side:        req.Fill.Side,
		Size:        req.Fill.Size,
		Price:       req.Fill.Price,
	}

	sig, err := s.signer.SignFill(market, req.Nonce, fill)
	if err != nil {
		var fieldErr *settlement.FieldError
		switch {
		case errors.As(err, &fieldErr):
			writeError(c, 400, CodeValidation, fieldErr.Error())
		case errors.Is(err, settlement.ErrStaleNonce):
			writeError(c, 400, CodeValidation, "nonce is not greater than the last signed nonce for this market")
		default:
			writeError(c, 500, CodeServerError, "signing failed")
		}
		return
	}

	logger.WithFields(map[string]interface{}{
		"market": req.Market,
		"nonce":  req.Nonce,
	}).Infof("fill signed")
	writeJSON(c, 200, gin.H{
		"signature": base58.Encode(sig),
		"nonce":     req.Nonce,
		"signer":    s.signer.PublicKeyBase58(),
		"message":   base58.Encode(settlement.EncodeMessage(market, req.Nonce, fill)),
	})
}
