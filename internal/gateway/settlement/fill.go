package settlement

import (
	"encoding/binary"
	"fmt"
)

// Outcome / side encodings shared with the on-chain program.
const (
	OutcomeYes uint8 = 0
	OutcomeNo  uint8 = 1

	SideBuy  uint8 = 0
	SideSell uint8 = 1

	// PriceScale is the parts-per-million price precision (1.0 == 1_000_000).
	PriceScale uint64 = 1_000_000
)

// Fill is a proposed match between a maker order and a taker order,
// already resolved to 32-byte wallet keys.
type Fill struct {
	Maker       [32]byte
	Taker       [32]byte
	OutcomeType uint8
	Side        uint8
	Size        uint64
	Price       uint64
}

// FieldError reports which fill field failed validation. The field name is
// safe to return to the calling service.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the structural constraints the settlement program enforces.
// Anything that fails here would be rejected on-chain anyway, so we refuse to
// sign it.
func (f *Fill) Validate() error {
	if f.OutcomeType != OutcomeYes && f.OutcomeType != OutcomeNo {
		return &FieldError{Field: "outcomeType", Reason: "must be 0 (YES) or 1 (NO)"}
	}
	if f.Side != SideBuy && f.Side != SideSell {
		return &FieldError{Field: "side", Reason: "must be 0 (BUY) or 1 (SELL)"}
	}
	if f.Size == 0 {
		return &FieldError{Field: "size", Reason: "must be > 0"}
	}
	if f.Price == 0 || f.Price > PriceScale {
		return &FieldError{Field: "price", Reason: "must be in (0, 1000000]"}
	}
	return nil
}

// messageLen is the fixed Borsh length of the settle-trade message:
// market(32) + nonce(8) + maker(32) + taker(32) + outcome(1) + side(1) + size(8) + price(8).
const messageLen = 122

// EncodeMessage serializes (market, nonce, fill) into the exact byte layout the
// on-chain program rebuilds before checking the ed25519 signature. Field order,
// widths and little-endian integers are part of the wire contract; changing any
// of them invalidates every signature.
func EncodeMessage(market [32]byte, nonce uint64, fill Fill) []byte {
	buf := make([]byte, 0, messageLen)
	buf = append(buf, market[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = append(buf, fill.Maker[:]...)
	buf = append(buf, fill.Taker[:]...)
	buf = append(buf, fill.OutcomeType, fill.Side)
	buf = binary.LittleEndian.AppendUint64(buf, fill.Size)
	buf = binary.LittleEndian.AppendUint64(buf, fill.Price)
	return buf
}
