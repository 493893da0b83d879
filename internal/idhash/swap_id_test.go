package idhash

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

func rawSwap() *domain.RawSwap {
	return &domain.RawSwap{
		TxID:           "5h6xBEauJ3PK6SWCZ1PGjBvj8vDdWG3KpwATGy1ARAXFSDwt8GFXM7W5Ncn16wmqokgpiKRLuS83KUxyZyv2sUYv",
		BlockID:        301234567,
		Swapper:        "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		FromMint:       "So11111111111111111111111111111111111111112",
		ToMint:         "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		FromAmount:     decimal.RequireFromString("1.5"),
		ToAmount:       decimal.RequireFromString("210.25"),
		BlockTimestamp: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestComputeSwapID(t *testing.T) {
	got := ComputeSwapID(rawSwap(), 0)
	if len(got) != 64 {
		t.Errorf("ComputeSwapID() length = %d, want 64", len(got))
	}

	// Determinism
	if again := ComputeSwapID(rawSwap(), 0); again != got {
		t.Errorf("ComputeSwapID() not deterministic: %s != %s", got, again)
	}
}

func TestComputeSwapID_Uniqueness(t *testing.T) {
	base := ComputeSwapID(rawSwap(), 0)

	tests := []struct {
		name   string
		mutate func(r *domain.RawSwap)
		occ    int
	}{
		{"different tx", func(r *domain.RawSwap) { r.TxID = "other" }, 0},
		{"different swapper", func(r *domain.RawSwap) { r.Swapper = "other" }, 0},
		{"different amount", func(r *domain.RawSwap) { r.ToAmount = decimal.RequireFromString("210.26") }, 0},
		{"different block", func(r *domain.RawSwap) { r.BlockID++ }, 0},
		{"second occurrence", func(r *domain.RawSwap) {}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rawSwap()
			tt.mutate(r)
			if got := ComputeSwapID(r, tt.occ); got == base {
				t.Errorf("expected id to change, got %s", got)
			}
		})
	}
}

func TestComputeSwapID_IgnoresTimestamp(t *testing.T) {
	r := rawSwap()
	r.BlockTimestamp = r.BlockTimestamp.Add(time.Hour)
	if ComputeSwapID(r, 0) != ComputeSwapID(rawSwap(), 0) {
		t.Error("timestamp must not take part in the id")
	}
}
