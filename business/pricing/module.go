// Package pricing resolves AMM spot prices and ranks the venues quoting a token.
package pricing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/pricestream/business/pricing/app"
	pricingDI "github.com/fd1az/pricestream/business/pricing/di"
	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/business/pricing/infra/dexindex"
	"github.com/fd1az/pricestream/business/pricing/infra/onchain"
	"github.com/fd1az/pricestream/business/pricing/infra/rest"
	"github.com/fd1az/pricestream/internal/asset"
	"github.com/fd1az/pricestream/internal/config"
	"github.com/fd1az/pricestream/internal/di"
	"github.com/fd1az/pricestream/internal/logger"
	"github.com/fd1az/pricestream/internal/monolith"
)

// Module implements the pricing bounded context.
type Module struct{}

// RegisterServices registers all pricing services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, pricingDI.Reader, func(sr di.ServiceRegistry) *onchain.Reader {
		cfg := sr.Get(monolith.ConfigService).(*config.Config)
		log := sr.Get(monolith.LoggerService).(logger.LoggerInterface)
		client := sr.Get(monolith.EthClientService).(*ethclient.Client)
		registry := sr.Get(monolith.AssetRegistryService).(*asset.Registry)

		reader, err := onchain.NewReader(client, registry, cfg.Ethereum.CallTimeout, log)
		if err != nil {
			panic("failed to create on-chain reader: " + err.Error())
		}
		return reader
	})

	di.RegisterToken(c, pricingDI.TokenMetadata, func(sr di.ServiceRegistry) app.TokenMetadata {
		return pricingDI.GetReader(sr)
	})

	di.RegisterToken(c, pricingDI.Resolver, func(sr di.ServiceRegistry) *onchain.Resolver {
		return onchain.NewResolver(pricingDI.GetReader(sr))
	})

	di.RegisterToken(c, pricingDI.DirectDiscovery, func(sr di.ServiceRegistry) *onchain.DirectDiscovery {
		log := sr.Get(monolith.LoggerService).(logger.LoggerInterface)
		return onchain.NewDirectDiscovery(pricingDI.GetReader(sr), pricingDI.GetResolver(sr), log)
	})

	cfg := c.Get(monolith.ConfigService).(*config.Config)
	if cfg.Index.Enabled {
		di.RegisterToken(c, pricingDI.Index, func(sr di.ServiceRegistry) *dexindex.Discovery {
			log := sr.Get(monolith.LoggerService).(logger.LoggerInterface)

			index, err := dexindex.NewDiscovery(dexindex.Config{
				BaseURL:           cfg.Index.BaseURL,
				ChainID:           cfg.Index.ChainID,
				MinLiquidityUSD:   cfg.Index.MinLiquidityDecimal(),
				MaxPools:          cfg.Index.MaxPools,
				RequestsPerMinute: cfg.Index.RequestsPerMinute,
				Timeout:           cfg.Index.Timeout,
			}, pricingDI.GetResolver(sr), Venues(cfg.Pricing.Venues), log)
			if err != nil {
				panic("failed to create pool index client: " + err.Error())
			}
			return index
		})
	}

	di.RegisterToken(c, pricingDI.Aggregator, func(sr di.ServiceRegistry) *app.Aggregator {
		log := sr.Get(monolith.LoggerService).(logger.LoggerInterface)

		var indexed app.IndexedDiscovery
		if cfg.Index.Enabled {
			indexed = pricingDI.GetIndex(sr)
		}
		return app.NewAggregator(AggregatorConfig(cfg.Pricing), indexed, pricingDI.GetDirectDiscovery(sr), log)
	})

	return nil
}

// Startup mounts the price lookup routes.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()

	handler := rest.NewHandler(
		pricingDI.GetAggregator(mono.Services()),
		pricingDI.GetTokenMetadata(mono.Services()),
		cfg.Stream.TokenTimeout,
	)
	handler.Register(mono.Router())

	mono.Logger().Info(ctx, "pricing module started",
		"venues", len(cfg.Pricing.Venues),
		"index_enabled", cfg.Index.Enabled)
	return nil
}

// Venues converts venue settings to domain venues.
func Venues(cfgs []config.VenueConfig) []domain.Venue {
	venues := make([]domain.Venue, 0, len(cfgs))
	for _, v := range cfgs {
		venues = append(venues, domain.Venue{
			ID:         v.ID,
			Kind:       domain.Kind(v.Kind),
			Factory:    v.FactoryAddress(),
			FeeTiers:   v.FeeTiers,
			IndexDexID: v.IndexDexID,
			IndexLabel: v.IndexLabel,
		})
	}
	return venues
}

// AggregatorConfig resolves the configured venue ids and reference tokens.
func AggregatorConfig(cfg config.PricingConfig) app.AggregatorConfig {
	refs := make([]common.Address, 0, len(cfg.ReferenceTokens))
	for _, r := range cfg.ReferenceTokens {
		refs = append(refs, common.HexToAddress(r))
	}

	return app.AggregatorConfig{
		Native:          common.HexToAddress(cfg.NativeWrapped),
		ReferenceTokens: refs,
		MajorVenues:     pick(cfg, cfg.MajorVenues),
		PairVenues:      pick(cfg, cfg.PairVenues),
		MaxConcurrency:  cfg.MaxConcurrency,
	}
}

func pick(cfg config.PricingConfig, ids []string) []domain.Venue {
	out := make([]domain.Venue, 0, len(ids))
	for _, id := range ids {
		if v, ok := cfg.Venue(id); ok {
			out = append(out, Venues([]config.VenueConfig{v})[0])
		}
	}
	return out
}
