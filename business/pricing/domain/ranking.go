package domain

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Rank merges pools from any discovery source into the order callers see:
// zero or missing rates are dropped, duplicates by pool address keep the
// higher liquidity, pools quoted against native come first and each group
// is sorted by liquidity descending.
//
// Liquidity is compared by raw magnitude even when units differ.
func Rank(pools []PricedPool, native common.Address) []PricedPool {
	byPool := make(map[common.Address]int, len(pools))
	out := make([]PricedPool, 0, len(pools))

	for _, p := range pools {
		if !p.HasRate() {
			continue
		}
		if i, ok := byPool[p.Pool]; ok {
			if p.Liquidity.GreaterThan(out[i].Liquidity) {
				out[i] = p
			}
			continue
		}
		byPool[p.Pool] = len(out)
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := out[i].ReferenceToken == native, out[j].ReferenceToken == native
		if ni != nj {
			return ni
		}
		return out[i].Liquidity.GreaterThan(out[j].Liquidity)
	})

	return out
}

// BestPerVenue keeps the highest-liquidity pool for each venue. The result
// follows the order venues first appear in pools.
func BestPerVenue(pools []PricedPool) []PricedPool {
	idx := make(map[string]int)
	out := make([]PricedPool, 0, len(pools))

	for _, p := range pools {
		if i, ok := idx[p.Venue]; ok {
			if p.Liquidity.GreaterThan(out[i].Liquidity) {
				out[i] = p
			}
			continue
		}
		idx[p.Venue] = len(out)
		out = append(out, p)
	}
	return out
}

// Deepest returns the highest-liquidity pool with a usable rate. Ties keep
// the earlier entry.
func Deepest(pools []PricedPool) (PricedPool, bool) {
	var (
		best  PricedPool
		found bool
	)
	for _, p := range pools {
		if !p.HasRate() {
			continue
		}
		if !found || p.Liquidity.GreaterThan(best.Liquidity) {
			best = p
			found = true
		}
	}
	return best, found
}
