// Package domain contains the token book and session message types.
package domain

import (
	"bytes"
	"encoding/json"
	"time"

	pricing "github.com/fd1az/pricestream/business/pricing/domain"
)

// NoPriceAvailable is the sentinel text recorded when a token that was never
// priced fails to resolve.
const NoPriceAvailable = "no price available"

// ErrorKey is the price map key carrying the sentinel entry.
const ErrorKey = "error"

// PriceEntry is either a priced pool or an error sentinel.
type PriceEntry struct {
	*pricing.PoolView
	Error string `json:"error,omitempty"`
}

// PriceMap maps a venue id to its best pool for the token.
type PriceMap map[string]PriceEntry

// NoPriceMap returns the sentinel map for a token that was tried and failed.
func NoPriceMap() PriceMap {
	return PriceMap{ErrorKey: {Error: NoPriceAvailable}}
}

// NewPriceMap keeps the first pool seen for each venue. Callers pass ranked
// pools, so that is the venue's best.
func NewPriceMap(views []pricing.PoolView) PriceMap {
	m := make(PriceMap, len(views))
	for i := range views {
		if _, ok := m[views[i].Venue]; ok {
			continue
		}
		m[views[i].Venue] = PriceEntry{PoolView: &views[i]}
	}
	return m
}

// Equal compares the serialized forms. encoding/json sorts map keys, so the
// comparison is independent of insertion order.
func (m PriceMap) Equal(other PriceMap) bool {
	a, errA := json.Marshal(m)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// HasError reports whether m is the sentinel map.
func (m PriceMap) HasError() bool {
	_, ok := m[ErrorKey]
	return ok && len(m) == 1
}

// TokenRecord is the tracked state of one token. Records are created on
// first subscription or at bootstrap and live for the whole process.
type TokenRecord struct {
	Address     string
	Symbol      string
	Name        string
	Decimals    uint8
	Prices      PriceMap
	UpdatedAt   time.Time
	Initialized bool
}

// HasMetadata reports whether the token's metadata has been filled in.
// Metadata is always written as a whole, and zero decimals is valid.
func (r *TokenRecord) HasMetadata() bool {
	return r.Symbol != ""
}

// State renders the record for the wire.
func (r *TokenRecord) State() TokenState {
	s := TokenState{
		Address:     r.Address,
		Symbol:      r.Symbol,
		Name:        r.Name,
		Decimals:    r.Decimals,
		Initialized: r.Initialized,
		Prices:      r.Prices,
	}
	if !r.UpdatedAt.IsZero() {
		s.UpdatedAt = r.UpdatedAt.UnixMilli()
	}
	if s.Prices == nil {
		s.Prices = PriceMap{}
	}
	return s
}

// TokenState is the wire form of a TokenRecord.
type TokenState struct {
	Address     string   `json:"address"`
	Symbol      string   `json:"symbol,omitempty"`
	Name        string   `json:"name,omitempty"`
	Decimals    uint8    `json:"decimals,omitempty"`
	Initialized bool     `json:"initialized"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
	Prices      PriceMap `json:"prices"`
}
