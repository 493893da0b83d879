package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BlockRelation compares a neighbor's trade block with the reference block.
type BlockRelation string

// Block relations; also the per-token trade statuses except Mixed.
const (
	RelationBefore BlockRelation = "before"
	RelationAfter  BlockRelation = "after"
	RelationSame   BlockRelation = "same"
	RelationMixed  BlockRelation = "mixed"
)

// RelatedCategory is the copy-trading bucket of a related wallet.
type RelatedCategory string

// Related wallet buckets
const (
	CategoryCopying      RelatedCategory = "copying"
	CategoryCopiedBy     RelatedCategory = "copied_by"
	CategorySimilar      RelatedCategory = "similar"
	CategoryUndetermined RelatedCategory = "undetermined"
)

// SimilarOverrideColor highlights wallets moved to similar by heavy overlap.
const SimilarOverrideColor = "rgba(248, 113, 113, 0.1)"

// RelatedWallet is one wallet inferred to trade alongside the queried wallet.
type RelatedWallet struct {
	Address                             string              `json:"address"`
	LastActivityTimestamp               *time.Time          `json:"last_activity_timestamp"`
	LastIntersectedTokensTradeTimestamp *time.Time          `json:"last_intersected_tokens_trade_timestamp"`
	TotalProfitUSD30d                   decimal.NullDecimal `json:"total_profit_usd_30d"`
	TotalProfitMultiplier30d            decimal.NullDecimal `json:"total_profit_multiplier_30d"`
	TotalTokenCount                     int64               `json:"total_token_count"`
	IntersectedTokensCount              int64               `json:"intersected_tokens_count"`
	IntersectedTokensPercent            decimal.NullDecimal `json:"intersected_tokens_percent"`
	MixedCount                          int64               `json:"mixed_count"`
	SameCount                           int64               `json:"same_count"`
	AfterCount                          int64               `json:"after_count"`
	BeforeCount                         int64               `json:"before_count"`
	Color                               *string             `json:"color"`
}

// RelatedWallets groups related wallets by bucket.
type RelatedWallets struct {
	Copying      []*RelatedWallet `json:"copying_wallets"`
	CopiedBy     []*RelatedWallet `json:"copied_by_wallets"`
	Similar      []*RelatedWallet `json:"similar_wallets"`
	Undetermined []*RelatedWallet `json:"undetermined_wallets"`
}

// Add appends w to the bucket for c.
func (r *RelatedWallets) Add(c RelatedCategory, w *RelatedWallet) {
	switch c {
	case CategoryCopying:
		r.Copying = append(r.Copying, w)
	case CategoryCopiedBy:
		r.CopiedBy = append(r.CopiedBy, w)
	case CategorySimilar:
		r.Similar = append(r.Similar, w)
	default:
		r.Undetermined = append(r.Undetermined, w)
	}
}
