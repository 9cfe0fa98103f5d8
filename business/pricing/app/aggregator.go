package app

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/apm"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/logger"
)

// AggregatorConfig lists the fallback search space.
type AggregatorConfig struct {
	// Native is the wrapped native token. Pools quoted in it rank first.
	Native common.Address
	// ReferenceTokens x MajorVenues is probed when the index yields nothing.
	ReferenceTokens []common.Address
	MajorVenues     []domain.Venue
	// PairVenues is the prioritized list used by GetBestPair.
	PairVenues     []domain.Venue
	MaxConcurrency int
}

// Aggregator combines indexed and direct discovery into one ranked view.
type Aggregator struct {
	cfg     AggregatorConfig
	indexed IndexedDiscovery
	direct  DirectDiscovery
	log     logger.LoggerInterface
	tracer  apm.Tracer
}

// NewAggregator creates an Aggregator. indexed may be nil, in which case
// every lookup goes straight to direct discovery.
func NewAggregator(cfg AggregatorConfig, indexed IndexedDiscovery, direct DirectDiscovery, log logger.LoggerInterface) *Aggregator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Aggregator{
		cfg:     cfg,
		indexed: indexed,
		direct:  direct,
		log:     log,
		tracer:  apm.NewTracer("pricing.aggregator"),
	}
}

// GetAllPrices returns every usable pool for target, ranked. An
// unresolvable token yields an empty slice and no error; only a cancelled
// or expired ctx produces an error.
func (a *Aggregator) GetAllPrices(ctx context.Context, target common.Address) ([]domain.PricedPool, error) {
	ctx, span := a.tracer.StartSpanFromContext(ctx, "pricing.get_all_prices")
	defer span.End()
	span.SetAttributes(attribute.String("token", target.Hex()))

	var pools []domain.PricedPool
	if a.indexed != nil {
		found, err := a.indexed.Discover(ctx, target)
		if err != nil {
			a.log.Warn(ctx, "indexed discovery failed, falling back to direct",
				"token", target.Hex(), "error", err)
			span.AddEvent("index_fallback")
		}
		pools = found
	}

	if len(pools) == 0 {
		pools = a.discoverDirect(ctx, target)
	}

	if err := ctx.Err(); err != nil {
		span.NoticeError(err)
		return nil, err
	}

	ranked := domain.Rank(withoutSelfQuotes(pools, target), a.cfg.Native)
	span.SetAttributes(attribute.Int("pools", len(ranked)))
	return ranked, nil
}

// GetBest returns the top-ranked pool for target or ErrNoPrice.
func (a *Aggregator) GetBest(ctx context.Context, target common.Address) (*domain.PricedPool, error) {
	pools, err := a.GetAllPrices(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, ErrNoPrice
	}
	best := pools[0]
	return &best, nil
}

// GetBestPair prices tokenA in tokenB using direct discovery over the pair
// venues only. It takes the deepest pool per venue, then the deepest overall.
func (a *Aggregator) GetBestPair(ctx context.Context, tokenA, tokenB common.Address) (*domain.PricedPool, error) {
	if tokenA == tokenB {
		return nil, apperror.Validation(apperror.CodeInvalidTokenAddr, "pair tokens must differ")
	}

	ctx, span := a.tracer.StartSpanFromContext(ctx, "pricing.get_best_pair")
	defer span.End()
	span.SetAttributes(
		attribute.String("token_a", tokenA.Hex()),
		attribute.String("token_b", tokenB.Hex()),
	)

	perVenue := make([]*domain.PricedPool, len(a.cfg.PairVenues))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, venue := range a.cfg.PairVenues {
		g.Go(func() error {
			if best, ok := domain.Deepest(a.direct.Discover(gctx, tokenA, tokenB, venue)); ok {
				perVenue[i] = &best
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]domain.PricedPool, 0, len(perVenue))
	for _, p := range perVenue {
		if p != nil {
			candidates = append(candidates, *p)
		}
	}

	best, ok := domain.Deepest(candidates)
	if !ok {
		return nil, ErrNoPrice
	}
	return &best, nil
}

// discoverDirect probes reference tokens x major venues concurrently.
func (a *Aggregator) discoverDirect(ctx context.Context, target common.Address) []domain.PricedPool {
	var (
		mu    sync.Mutex
		pools []domain.PricedPool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrency)

	for _, ref := range a.cfg.ReferenceTokens {
		if ref == target {
			continue
		}
		for _, venue := range a.cfg.MajorVenues {
			g.Go(func() error {
				found := a.direct.Discover(gctx, target, ref, venue)
				if len(found) == 0 {
					return nil
				}
				mu.Lock()
				pools = append(pools, found...)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	a.log.Debug(ctx, "direct discovery finished", "token", target.Hex(), "pools", len(pools))
	return pools
}

func withoutSelfQuotes(pools []domain.PricedPool, target common.Address) []domain.PricedPool {
	out := pools[:0:0]
	for _, p := range pools {
		if p.ReferenceToken != target {
			out = append(out, p)
		}
	}
	return out
}
