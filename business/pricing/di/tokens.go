// Package di contains dependency injection tokens for the pricing context.
package di

import (
	"github.com/fd1az/pricestream/business/pricing/app"
	"github.com/fd1az/pricestream/business/pricing/infra/dexindex"
	"github.com/fd1az/pricestream/business/pricing/infra/onchain"
	"github.com/fd1az/pricestream/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Aggregator    = di.NewToken[*app.Aggregator]("pricing.Aggregator")
	TokenMetadata = di.NewToken[app.TokenMetadata]("pricing.TokenMetadata")
	Reader        = di.NewToken[*onchain.Reader]("pricing.Reader")
	Index         = di.NewToken[*dexindex.Discovery]("pricing.Index")
)

// Private dependency tokens - internal to pricing module
var (
	Resolver        = di.NewToken[*onchain.Resolver]("pricing:resolver")
	DirectDiscovery = di.NewToken[*onchain.DirectDiscovery]("pricing:directDiscovery")
)

// Helper functions for type-safe access
func GetAggregator(c di.ServiceRegistry) *app.Aggregator {
	return di.GetToken(c, Aggregator)
}

func GetTokenMetadata(c di.ServiceRegistry) app.TokenMetadata {
	return di.GetToken(c, TokenMetadata)
}

func GetReader(c di.ServiceRegistry) *onchain.Reader {
	return di.GetToken(c, Reader)
}

// GetIndex resolves the pool index client. Only registered when the index
// is enabled.
func GetIndex(c di.ServiceRegistry) *dexindex.Discovery {
	return di.GetToken(c, Index)
}

func GetResolver(c di.ServiceRegistry) *onchain.Resolver {
	return di.GetToken(c, Resolver)
}

func GetDirectDiscovery(c di.ServiceRegistry) *onchain.DirectDiscovery {
	return di.GetToken(c, DirectDiscovery)
}
