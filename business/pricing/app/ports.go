// Package app contains application services and port definitions for the pricing context.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/asset"
)

var (
	// ErrPoolNotFound means no supported AMM interpretation of a pool
	// produced a rate for the requested token.
	ErrPoolNotFound = apperror.New(apperror.CodePoolNotFound)
	// ErrNoPrice means every discovery path came back empty.
	ErrNoPrice = apperror.New(apperror.CodeNoPrice)
)

// PoolResolver prices a single pool from its on-chain state.
type PoolResolver interface {
	// Resolve tries every supported AMM kind in order.
	Resolve(ctx context.Context, target, pool common.Address) (domain.PoolQuote, error)

	// ResolveAs skips probing when the caller already knows the pool kind.
	ResolveAs(ctx context.Context, kind domain.Kind, target, pool common.Address) (domain.PoolQuote, error)
}

// IndexedDiscovery finds pools for a token through an external index.
type IndexedDiscovery interface {
	Discover(ctx context.Context, target common.Address) ([]domain.PricedPool, error)
}

// DirectDiscovery probes a venue's factory for target/reference pools.
// Probe failures are swallowed, so it never errors.
type DirectDiscovery interface {
	Discover(ctx context.Context, target, reference common.Address, venue domain.Venue) []domain.PricedPool
}

// TokenMetadata reads ERC-20 metadata.
type TokenMetadata interface {
	Token(ctx context.Context, addr common.Address) (*asset.Asset, error)
}
