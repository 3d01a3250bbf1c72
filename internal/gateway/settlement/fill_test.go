package settlement

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func testFill() Fill {
	var maker, taker [32]byte
	for i := range maker {
		maker[i] = byte(i + 1)
		taker[i] = byte(64 - i)
	}
	return Fill{
		Maker:       maker,
		Taker:       taker,
		OutcomeType: OutcomeYes,
		Side:        SideBuy,
		Size:        1_500_000,
		Price:       420_000,
	}
}

func TestEncodeMessage_Layout(t *testing.T) {
	var market [32]byte
	for i := range market {
		market[i] = byte(200 + i)
	}
	fill := testFill()
	msg := EncodeMessage(market, 7, fill)

	if len(msg) != messageLen {
		t.Fatalf("message length = %d, want %d", len(msg), messageLen)
	}
	if !bytes.Equal(msg[0:32], market[:]) {
		t.Fatalf("market bytes mismatch")
	}
	if got := binary.LittleEndian.Uint64(msg[32:40]); got != 7 {
		t.Fatalf("nonce = %d, want 7", got)
	}
	if !bytes.Equal(msg[40:72], fill.Maker[:]) {
		t.Fatalf("maker bytes mismatch")
	}
	if !bytes.Equal(msg[72:104], fill.Taker[:]) {
		t.Fatalf("taker bytes mismatch")
	}
	if msg[104] != fill.OutcomeType || msg[105] != fill.Side {
		t.Fatalf("outcome/side = %d/%d", msg[104], msg[105])
	}
	if got := binary.LittleEndian.Uint64(msg[106:114]); got != fill.Size {
		t.Fatalf("size = %d, want %d", got, fill.Size)
	}
	if got := binary.LittleEndian.Uint64(msg[114:122]); got != fill.Price {
		t.Fatalf("price = %d, want %d", got, fill.Price)
	}
}

func TestEncodeMessage_Deterministic(t *testing.T) {
	var market [32]byte
	fill := testFill()
	a := EncodeMessage(market, 1, fill)
	b := EncodeMessage(market, 1, fill)
	if !bytes.Equal(a, b) {
		t.Fatalf("same input produced different messages")
	}
	c := EncodeMessage(market, 2, fill)
	if bytes.Equal(a, c) {
		t.Fatalf("different nonce produced identical message")
	}
}

func TestFill_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Fill)
		wantErr string // empty means valid, otherwise the failing field
	}{
		{"valid", func(f *Fill) {}, ""},
		{"price at scale", func(f *Fill) { f.Price = PriceScale }, ""},
		{"no side sell", func(f *Fill) { f.OutcomeType = OutcomeNo; f.Side = SideSell }, ""},
		{"bad outcome", func(f *Fill) { f.OutcomeType = 2 }, "outcomeType"},
		{"bad side", func(f *Fill) { f.Side = 9 }, "side"},
		{"zero size", func(f *Fill) { f.Size = 0 }, "size"},
		{"zero price", func(f *Fill) { f.Price = 0 }, "price"},
		{"price over scale", func(f *Fill) { f.Price = PriceScale + 1 }, "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := testFill()
			tc.mutate(&f)
			err := f.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			fe, ok := err.(*FieldError)
			if !ok {
				t.Fatalf("want *FieldError, got %T (%v)", err, err)
			}
			if fe.Field != tc.wantErr {
				t.Fatalf("failing field = %q, want %q", fe.Field, tc.wantErr)
			}
		})
	}
}
