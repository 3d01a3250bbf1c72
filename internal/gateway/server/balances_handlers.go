package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/catallaxyz/gateway/internal/gateway/ledger"
	"github.com/catallaxyz/gateway/pkg/logger"
)

// balanceBody renders every ledger field as a decimal string so JSON
// consumers never hit float precision on large positions.
type balanceBody struct {
	USDCAvailable string `json:"usdcAvailable"`
	USDCLocked    string `json:"usdcLocked"`
	YesAvailable  string `json:"yesAvailable"`
	YesLocked     string `json:"yesLocked"`
	NoAvailable   string `json:"noAvailable"`
	NoLocked      string `json:"noLocked"`
}

func renderBalance(b ledger.Balance) balanceBody {
	return balanceBody{
		USDCAvailable: strconv.FormatInt(b.USDCAvailable, 10),
		USDCLocked:    strconv.FormatInt(b.USDCLocked, 10),
		YesAvailable:  strconv.FormatInt(b.YesAvailable, 10),
		YesLocked:     strconv.FormatInt(b.YesLocked, 10),
		NoAvailable:   strconv.FormatInt(b.NoAvailable, 10),
		NoLocked:      strconv.FormatInt(b.NoLocked, 10),
	}
}

func (s *Server) handleBalanceRead(c *gin.Context) {
	cred := sessionCredential(c)
	if cred == nil {
		writeError(c, 401, CodeUnauthorized, "no session")
		return
	}
	bal, err := s.ledger.Get(cred.UserID)
	if err != nil {
		writeError(c, 500, CodeServerError, "balance read failed")
		return
	}
	writeJSON(c, 200, renderBalance(bal))
}

// baseUnits accepts both numeric and decimal-string JSON encodings; responses
// always render strings but clients send either.
type baseUnits int64

func (a *baseUnits) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("amount must be an integer base-unit value: %w", err)
	}
	*a = baseUnits(v)
	return nil
}

type depositRequest struct {
	Amount               baseUnits `json:"amount"`
	TransactionSignature string    `json:"transactionSignature"`
	Slot                 *uint64   `json:"slot,omitempty"` // informational, the chain is authoritative
	MarketID             *string   `json:"marketId,omitempty"`
}

// handleDeposit credits USDC available balance, keyed by the on-chain
// transaction signature. Replays return the current balance with a duplicate
// flag instead of double-crediting. When an RPC endpoint is configured the
// transaction must exist, be finalized and not have errored on chain.
func (s *Server) handleDeposit(c *gin.Context) {
	cred := sessionCredential(c)
	if cred == nil {
		writeError(c, 401, CodeUnauthorized, "no session")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		writeError(c, 400, CodeValidation, "invalid json body")
		return
	}
	req.TransactionSignature = strings.TrimSpace(req.TransactionSignature)
	if req.TransactionSignature == "" {
		writeError(c, 400, CodeValidation, "transactionSignature is required")
		return
	}
	if req.Amount <= 0 {
		writeError(c, 400, CodeDepositFailed, "amount must be positive")
		return
	}

	if s.rpc != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		status, err := s.rpc.GetTransactionStatus(ctx, req.TransactionSignature)
		cancel()
		if err != nil {
			writeError(c, 500, CodeServerError, "chain lookup failed")
			return
		}
		switch {
		case !status.Found:
			writeError(c, 400, CodeDepositFailed, "transaction not found on chain")
			return
		case status.Failed:
			writeError(c, 400, CodeDepositFailed, "transaction failed on chain")
			return
		case !status.Finalized:
			writeError(c, 400, CodeDepositFailed, "transaction is not finalized yet")
			return
		}
	}

	amount := int64(req.Amount)
	bal, err := s.ledger.Deposit(cred.UserID, amount, req.TransactionSignature)
	duplicate := errors.Is(err, ledger.ErrDuplicateDeposit)
	if err != nil && !duplicate {
		writeError(c, 500, CodeServerError, "deposit failed")
		return
	}

	if !duplicate {
		// 余额已落账；历史行写失败只记日志，不能让已提交的入账报错
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		opErr := s.insertOperation(ctx, UserOperation{
			ID:            uuid.NewString(),
			UserID:        cred.UserID,
			MarketID:      req.MarketID,
			OperationType: OpTypeDeposit,
			Amount:        amount,
			AmountUSDC:    humanUSDC(amount),
			Status:        OpStatusCompleted,
			TxSignature:   req.TransactionSignature,
			CreatedAt:     time.Now(),
		})
		cancel()
		if opErr != nil {
			logger.WithFields(map[string]interface{}{
				"user": cred.UserID,
				"tx":   req.TransactionSignature,
			}).Errorf("deposit history insert failed: %v", opErr)
		}
	}

	status := OpStatusCompleted
	if duplicate {
		status = OpStatusDuplicate
	}
	writeJSON(c, 200, gin.H{
		"status":     status,
		"newBalance": renderBalance(bal),
	})
}

// handleWithdraw: withdrawals moved on chain, the gateway no longer moves
// funds out. Kept as an endpoint so old clients get a stable error instead
// of a 404 they might retry forever.
func (s *Server) handleWithdraw(c *gin.Context) {
	writeError(c, 410, CodeWithdrawDeprecated, "withdrawals are processed on chain; this endpoint is deprecated")
}

const historyMaxLimit = 200

func (s *Server) handleBalanceHistory(c *gin.Context) {
	cred := sessionCredential(c)
	if cred == nil {
		writeError(c, 401, CodeUnauthorized, "no session")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(c, 400, CodeValidation, "invalid limit")
			return
		}
		if v > historyMaxLimit {
			v = historyMaxLimit
		}
		limit = v
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(c, 400, CodeValidation, "invalid offset")
			return
		}
		offset = v
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// fetch one extra row to decide hasMore without a count query
	ops, err := s.listOperations(ctx, cred.UserID, limit+1, offset)
	if err != nil {
		writeError(c, 500, CodeServerError, "history read failed")
		return
	}
	hasMore := len(ops) > limit
	if hasMore {
		ops = ops[:limit]
	}
	writeJSON(c, 200, gin.H{
		"operations": ops,
		"limit":      limit,
		"offset":     offset,
		"hasMore":    hasMore,
	})
}
