package storage

import "github.com/5ou1e/CryptoStorage-sub000/internal/domain"

// SwapsWithIDs returns the swaps whose id is in ids, in input order.
// A repeated id is returned once.
func SwapsWithIDs(swaps []*domain.Swap, ids []string) []*domain.Swap {
	if len(ids) == len(swaps) {
		return swaps
	}
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]*domain.Swap, 0, len(ids))
	for _, s := range swaps {
		if _, ok := keep[s.ID]; ok {
			out = append(out, s)
			delete(keep, s.ID)
		}
	}
	return out
}
