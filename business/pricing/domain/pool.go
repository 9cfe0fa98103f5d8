// Package domain contains the core domain types for the pricing context.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Kind identifies an AMM pool design.
type Kind string

const (
	KindConcentrated    Kind = "concentrated"
	KindConstantProduct Kind = "constant_product"
)

// LiquidityUnit tells how a PricedPool's liquidity was measured.
type LiquidityUnit string

const (
	// LiquidityNative is the pool's own liquidity figure, as read on-chain.
	LiquidityNative LiquidityUnit = "native"
	// LiquidityUSD is the index's USD valuation of the pool.
	LiquidityUSD LiquidityUnit = "usd"
)

// Venue is one AMM deployment with its factory contract.
type Venue struct {
	ID      string
	Kind    Kind
	Factory common.Address
	// FeeTiers is probed in order. Only concentrated venues use it.
	FeeTiers []uint32
	// IndexDexID and IndexLabel map index entries back to this venue.
	IndexDexID string
	IndexLabel string
}

// PoolQuote is the rate implied by a single pool's state.
type PoolQuote struct {
	Kind            Kind
	Rate            *big.Int
	ReferenceToken  common.Address
	ReferenceSymbol string
}

// PricedPool is the outcome of resolving one pool for a target token.
//
// Rate is the number of smallest units of ReferenceToken that equal one
// whole unit of the target token. It is never a human-scaled decimal.
type PricedPool struct {
	Venue           string
	Pool            common.Address
	Liquidity       decimal.Decimal
	LiquidityUnit   LiquidityUnit
	Rate            *big.Int
	ReferenceToken  common.Address
	ReferenceSymbol string
	// FeeTier is nil for constant-product venues.
	FeeTier *uint32
}

// NewPricedPool combines a resolved quote with where it came from.
func NewPricedPool(venue string, pool common.Address, liquidity decimal.Decimal, unit LiquidityUnit, q PoolQuote) PricedPool {
	return PricedPool{
		Venue:           venue,
		Pool:            pool,
		Liquidity:       liquidity,
		LiquidityUnit:   unit,
		Rate:            new(big.Int).Set(q.Rate),
		ReferenceToken:  q.ReferenceToken,
		ReferenceSymbol: q.ReferenceSymbol,
	}
}

// WithFeeTier returns a copy of p tagged with fee.
func (p PricedPool) WithFeeTier(fee uint32) PricedPool {
	p.FeeTier = &fee
	return p
}

// HasRate reports whether p carries a usable, strictly positive rate.
func (p PricedPool) HasRate() bool {
	return p.Rate != nil && p.Rate.Sign() > 0
}
