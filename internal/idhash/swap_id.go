package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// ComputeSwapID computes a deterministic swap id using SHA256.
// Formula: SHA256(tx_id|swapper|from_mint|to_mint|from_amount|to_amount|block_id|occurrence)
// occurrence distinguishes byte-identical rows inside one transaction.
// The swapper is the provider's original signer, before any reattribution,
// so replays of the same window produce the same ids.
// Returns hex-encoded hash (64 characters).
func ComputeSwapID(raw *domain.RawSwap, occurrence int) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%d",
		raw.TxID,
		raw.Swapper,
		raw.FromMint,
		raw.ToMint,
		raw.FromAmount.String(),
		raw.ToAmount.String(),
		raw.BlockID,
		occurrence,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
