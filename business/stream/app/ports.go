// Package app contains the subscription registry and the refresh engine.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	pricing "github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/internal/asset"
)

// Pricer returns ranked pools for a token.
type Pricer interface {
	GetAllPrices(ctx context.Context, target common.Address) ([]pricing.PricedPool, error)
}

// TokenMetadata reads ERC-20 metadata.
type TokenMetadata interface {
	Token(ctx context.Context, addr common.Address) (*asset.Asset, error)
}

// Catalog persists token records across restarts.
type Catalog interface {
	LoadTokens(ctx context.Context) ([]domain.TokenRecord, error)
	SaveToken(ctx context.Context, rec domain.TokenRecord) error
}

// NopCatalog is used when no database is configured.
type NopCatalog struct{}

func (NopCatalog) LoadTokens(context.Context) ([]domain.TokenRecord, error) { return nil, nil }

func (NopCatalog) SaveToken(context.Context, domain.TokenRecord) error { return nil }
