package related

import "github.com/5ou1e/CryptoStorage-sub000/internal/domain"

// Bucketing thresholds.
const (
	SimilarOverlapRatio      = 0.4
	DirectionalMinIntersects = 10
	DirectionalRatio         = 0.75
)

type relationPair struct {
	buy, sell domain.BlockRelation
}

// tradeStatusTable maps (buy relation, sell relation) to a token trade status.
// Pairs not listed are mixed.
var tradeStatusTable = map[relationPair]domain.BlockRelation{
	{domain.RelationAfter, domain.RelationAfter}:   domain.RelationAfter,
	{domain.RelationSame, domain.RelationAfter}:    domain.RelationAfter,
	{domain.RelationAfter, domain.RelationSame}:    domain.RelationAfter,
	{domain.RelationSame, domain.RelationBefore}:   domain.RelationBefore,
	{domain.RelationBefore, domain.RelationBefore}: domain.RelationBefore,
	{domain.RelationBefore, domain.RelationSame}:   domain.RelationBefore,
	{domain.RelationSame, domain.RelationSame}:     domain.RelationSame,
}

// BlockRelationOf compares a neighbor's block with the reference block.
func BlockRelationOf(block, reference int64) domain.BlockRelation {
	switch {
	case block < reference:
		return domain.RelationBefore
	case block > reference:
		return domain.RelationAfter
	default:
		return domain.RelationSame
	}
}

// TradeStatus combines the buy and sell relations of one token.
func TradeStatus(buy, sell domain.BlockRelation) domain.BlockRelation {
	if s, ok := tradeStatusTable[relationPair{buy, sell}]; ok {
		return s
	}
	return domain.RelationMixed
}

// StatusCounts tallies token trade statuses of one neighbor wallet.
type StatusCounts struct {
	Before int64
	After  int64
	Same   int64
	Mixed  int64
}

// Add counts one token status.
func (c *StatusCounts) Add(s domain.BlockRelation) {
	switch s {
	case domain.RelationBefore:
		c.Before++
	case domain.RelationAfter:
		c.After++
	case domain.RelationSame:
		c.Same++
	default:
		c.Mixed++
	}
}

// Intersected is the number of tokens both wallets traded.
func (c StatusCounts) Intersected() int64 {
	return c.Before + c.After + c.Same + c.Mixed
}

// Categorize buckets a neighbor by its status counts and its all-time token count.
// The returned color is set when heavy overlap overrode a directional bucket.
func Categorize(c StatusCounts, totalTokens int64) (domain.RelatedCategory, *string) {
	intersected := c.Intersected()
	if intersected == 0 {
		return domain.CategoryUndetermined, nil
	}
	heavyOverlap := totalTokens > 0 && float64(intersected)/float64(totalTokens) >= SimilarOverlapRatio

	var category domain.RelatedCategory
	switch {
	case c.Before == 0 && c.After == 0 && c.Mixed == 0:
		category = domain.CategoryUndetermined
	case c.Before == 0 && c.Mixed == 0:
		category = domain.CategoryCopiedBy
	case c.After == 0 && c.Mixed == 0:
		category = domain.CategoryCopying
	default:
		category = domain.CategoryUndetermined
	}

	if category == domain.CategoryUndetermined {
		if heavyOverlap {
			return domain.CategorySimilar, nil
		}
		if intersected >= DirectionalMinIntersects {
			if float64(c.Before)/float64(intersected) >= DirectionalRatio {
				return domain.CategoryCopying, nil
			}
			if float64(c.After)/float64(intersected) >= DirectionalRatio {
				return domain.CategoryCopiedBy, nil
			}
		}
		return category, nil
	}

	if heavyOverlap {
		color := domain.SimilarOverrideColor
		return domain.CategorySimilar, &color
	}
	return category, nil
}
