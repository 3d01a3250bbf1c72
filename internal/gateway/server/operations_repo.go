package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const usdcDecimals = 6

// humanUSDC renders base units as a 6-decimal USDC string for display.
func humanUSDC(baseUnits int64) string {
	return decimal.New(baseUnits, -usdcDecimals).StringFixed(usdcDecimals)
}

func (s *Server) insertOperation(ctx context.Context, op UserOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_operations (id,user_id,market_id,operation_type,amount,status,tx_signature,created_at)
VALUES (?,?,?,?,?,?,?,?)
`, op.ID, op.UserID, op.MarketID, op.OperationType, op.Amount, op.Status, op.TxSignature,
		op.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// listOperations returns one page of history, newest first.
func (s *Server) listOperations(ctx context.Context, userID string, limit, offset int) ([]UserOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,user_id,market_id,operation_type,amount,status,tx_signature,created_at
FROM user_operations WHERE user_id=?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserOperation
	for rows.Next() {
		var op UserOperation
		var created string
		if err := rows.Scan(&op.ID, &op.UserID, &op.MarketID, &op.OperationType,
			&op.Amount, &op.Status, &op.TxSignature, &created); err != nil {
			return nil, err
		}
		op.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		op.AmountUSDC = humanUSDC(op.Amount)
		out = append(out, op)
	}
	return out, rows.Err()
}
