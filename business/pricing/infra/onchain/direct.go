package onchain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/pricestream/business/pricing/app"
	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/logger"
)

var _ app.DirectDiscovery = (*DirectDiscovery)(nil)

// DirectDiscovery enumerates pools through venue factories when no index
// is available. Liquidity is reported in native pool units.
type DirectDiscovery struct {
	reader   *Reader
	resolver *Resolver
	logger   logger.LoggerInterface
}

func NewDirectDiscovery(reader *Reader, resolver *Resolver, log logger.LoggerInterface) *DirectDiscovery {
	return &DirectDiscovery{reader: reader, resolver: resolver, logger: log}
}

// Discover returns every live target/reference pool on venue. Probe
// failures are logged and treated as "no pool".
func (d *DirectDiscovery) Discover(ctx context.Context, target, reference common.Address, venue domain.Venue) []domain.PricedPool {
	switch venue.Kind {
	case domain.KindConcentrated:
		return d.discoverConcentrated(ctx, target, reference, venue)
	case domain.KindConstantProduct:
		return d.discoverConstantProduct(ctx, target, reference, venue)
	}
	d.logger.Warn(ctx, "unsupported venue kind", "venue", venue.ID, "kind", venue.Kind)
	return nil
}

func (d *DirectDiscovery) discoverConcentrated(ctx context.Context, target, reference common.Address, venue domain.Venue) []domain.PricedPool {
	var out []domain.PricedPool

	for _, fee := range venue.FeeTiers {
		pool, err := d.reader.GetPool(ctx, venue.Factory, target, reference, fee)
		if err != nil {
			d.logger.Debug(ctx, "getPool failed", "venue", venue.ID, "fee", fee, "error", err)
			continue
		}
		if pool == (common.Address{}) {
			continue
		}

		liquidity, err := d.reader.Liquidity(ctx, pool)
		if err != nil || liquidity.Sign() == 0 {
			continue
		}

		q, err := d.resolver.ResolveAs(ctx, domain.KindConcentrated, target, pool)
		if err != nil {
			d.logger.Debug(ctx, "pool resolution failed", "venue", venue.ID, "pool", pool.Hex(), "error", err)
			continue
		}

		out = append(out, domain.NewPricedPool(venue.ID, pool,
			decimal.NewFromBigInt(liquidity, 0), domain.LiquidityNative, q).WithFeeTier(fee))
	}

	return out
}

func (d *DirectDiscovery) discoverConstantProduct(ctx context.Context, target, reference common.Address, venue domain.Venue) []domain.PricedPool {
	pair, err := d.reader.GetPair(ctx, venue.Factory, target, reference)
	if err != nil {
		d.logger.Debug(ctx, "getPair failed", "venue", venue.ID, "error", err)
		return nil
	}
	if pair == (common.Address{}) {
		return nil
	}

	r0, r1, err := d.reader.Reserves(ctx, pair)
	if err != nil {
		return nil
	}
	liquidity := domain.PairLiquidity(r0, r1)
	if liquidity.Sign() == 0 {
		return nil
	}

	q, err := d.resolver.ResolveAs(ctx, domain.KindConstantProduct, target, pair)
	if err != nil {
		d.logger.Debug(ctx, "pair resolution failed", "venue", venue.ID, "pair", pair.Hex(), "error", err)
		return nil
	}

	return []domain.PricedPool{
		domain.NewPricedPool(venue.ID, pair, decimal.NewFromBigInt(liquidity, 0), domain.LiquidityNative, q),
	}
}
