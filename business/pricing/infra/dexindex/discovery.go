// Package dexindex discovers pools through a DexScreener-compatible index
// and prices them on-chain.
package dexindex

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/pricestream/business/pricing/app"
	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/circuitbreaker"
	"github.com/fd1az/pricestream/internal/httpclient"
	"github.com/fd1az/pricestream/internal/logger"
	"github.com/fd1az/pricestream/internal/ratelimit"
)

const (
	tracerName = "dexindex"
	meterName  = "dexindex"
)

var _ app.IndexedDiscovery = (*Discovery)(nil)

// Config holds index settings.
type Config struct {
	BaseURL           string
	ChainID           string
	MinLiquidityUSD   decimal.Decimal
	MaxPools          int
	RequestsPerMinute int
	Timeout           time.Duration
}

type discoveryMetrics struct {
	requestsTotal  metric.Int64Counter
	requestErrors  metric.Int64Counter
	pairsFiltered  metric.Int64Counter
	requestLatency metric.Float64Histogram
}

// entry is one index pool that passed the chain, venue and floor checks.
type entry struct {
	pool      common.Address
	liquidity decimal.Decimal
}

// candidate groups a venue's entries, deepest first. The first entry that
// resolves represents the venue.
type candidate struct {
	venue   domain.Venue
	entries []entry
}

func (c candidate) liquidity() decimal.Decimal {
	return c.entries[0].liquidity
}

// Discovery implements app.IndexedDiscovery.
type Discovery struct {
	cfg      Config
	client   httpclient.Client
	resolver app.PoolResolver
	venues   []domain.Venue
	limiter  *ratelimit.Limiter
	cb       *circuitbreaker.CircuitBreaker[*tokenPairsResponse]
	logger   logger.LoggerInterface

	tracer  trace.Tracer
	metrics *discoveryMetrics
}

// NewDiscovery creates an index-backed discovery. venues lists what the
// resolver can price; index entries for anything else are ignored.
func NewDiscovery(cfg Config, resolver app.PoolResolver, venues []domain.Venue, log logger.LoggerInterface, opts ...httpclient.ClientOption) (*Discovery, error) {
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}

	clientOpts := append([]httpclient.ClientOption{
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithProviderName("dexindex"),
		httpclient.WithRequestTimeout(cfg.Timeout),
	}, opts...)

	client, err := httpclient.NewInstrumentedClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	d := &Discovery{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		venues:   venues,
		limiter:  ratelimit.New(cfg.RequestsPerMinute),
		cb:       circuitbreaker.New[*tokenPairsResponse](circuitbreaker.DefaultConfig("dexindex")),
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}

	if err := d.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return d, nil
}

func (d *Discovery) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	d.metrics = &discoveryMetrics{}

	d.metrics.requestsTotal, err = meter.Int64Counter(
		"dexindex_requests_total",
		metric.WithDescription("Total index lookups"),
	)
	if err != nil {
		return err
	}

	d.metrics.requestErrors, err = meter.Int64Counter(
		"dexindex_request_errors_total",
		metric.WithDescription("Index lookups that failed"),
	)
	if err != nil {
		return err
	}

	d.metrics.pairsFiltered, err = meter.Int64Counter(
		"dexindex_pairs_filtered_total",
		metric.WithDescription("Index entries dropped by filtering"),
	)
	if err != nil {
		return err
	}

	d.metrics.requestLatency, err = meter.Float64Histogram(
		"dexindex_request_latency_ms",
		metric.WithDescription("Index lookup latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// Healthy reports whether the index breaker lets requests through.
func (d *Discovery) Healthy() bool {
	return d.cb.State() != gobreaker.StateOpen
}

// Discover looks target up in the index and prices the surviving pools.
// Index failures return an INDEX_UNAVAILABLE error; resolution failures of
// individual pools are dropped.
func (d *Discovery) Discover(ctx context.Context, target common.Address) ([]domain.PricedPool, error) {
	ctx, span := d.tracer.Start(ctx, "dexindex.discover",
		trace.WithAttributes(attribute.String("token", target.Hex())),
	)
	defer span.End()

	resp, err := d.fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index unavailable")
		return nil, err
	}

	candidates := d.filter(ctx, target, resp.Pairs)
	span.SetAttributes(
		attribute.Int("index.pairs", len(resp.Pairs)),
		attribute.Int("index.candidates", len(candidates)),
	)

	var (
		mu    sync.Mutex
		pools = make([]domain.PricedPool, 0, len(candidates))
	)

	// Index entries carry no AMM kind; the resolver probes for it.
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		g.Go(func() error {
			for _, e := range c.entries {
				q, err := d.resolver.Resolve(gctx, target, e.pool)
				if err != nil {
					d.logger.Debug(gctx, "indexed pool resolution failed",
						"venue", c.venue.ID, "pool", e.pool.Hex(), "error", err)
					continue
				}
				mu.Lock()
				pools = append(pools, domain.NewPricedPool(c.venue.ID, e.pool, e.liquidity, domain.LiquidityUSD, q))
				mu.Unlock()
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()

	return pools, nil
}

func (d *Discovery) fetch(ctx context.Context, target common.Address) (*tokenPairsResponse, error) {
	start := time.Now()
	d.metrics.requestsTotal.Add(ctx, 1)

	resp, err := d.cb.Execute(func() (*tokenPairsResponse, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var out tokenPairsResponse
		_, err := d.client.NewRequestWithOptions(
			httpclient.WithResponseErrorHandler(statusError),
			httpclient.WithLabels(httpclient.NewLabel("endpoint", "tokens")),
		).
			SetResult(&out).
			Get(ctx, "/latest/dex/tokens/"+strings.ToLower(target.Hex()))
		if err != nil {
			return nil, err
		}
		return &out, nil
	})

	d.metrics.requestLatency.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		d.metrics.requestErrors.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeIndexUnavailable,
			apperror.WithCause(err),
			apperror.WithContext(target.Hex()))
	}
	return resp, nil
}

func statusError(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return apperror.New(apperror.CodeIndexBadResponse,
		apperror.WithContext(fmt.Sprintf("status %d: %s", status, snippet)))
}

// filter applies the chain, venue and liquidity floor rules, groups the
// survivors per venue and caps the venue count. Index relevance order
// breaks liquidity ties.
func (d *Discovery) filter(ctx context.Context, target common.Address, pairs []indexPair) []candidate {
	byVenue := make(map[string]int)
	var out []candidate
	dropped := 0

	for _, p := range pairs {
		if d.cfg.ChainID != "" && !strings.EqualFold(p.ChainID, d.cfg.ChainID) {
			dropped++
			continue
		}
		venue, ok := d.venueFor(p)
		if !ok {
			dropped++
			continue
		}
		if !common.IsHexAddress(p.PairAddress) || !p.holds(target) {
			dropped++
			continue
		}
		liq := p.liquidityUSD()
		if liq.LessThan(d.cfg.MinLiquidityUSD) {
			dropped++
			continue
		}

		e := entry{pool: common.HexToAddress(p.PairAddress), liquidity: liq}
		if i, seen := byVenue[venue.ID]; seen {
			out[i].entries = append(out[i].entries, e)
			continue
		}
		byVenue[venue.ID] = len(out)
		out = append(out, candidate{venue: venue, entries: []entry{e}})
	}

	for _, c := range out {
		sort.SliceStable(c.entries, func(i, j int) bool {
			return c.entries[i].liquidity.GreaterThan(c.entries[j].liquidity)
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].liquidity().GreaterThan(out[j].liquidity())
	})
	if len(out) > d.cfg.MaxPools {
		for _, c := range out[d.cfg.MaxPools:] {
			dropped += len(c.entries)
		}
		out = out[:d.cfg.MaxPools]
	}

	if dropped > 0 {
		d.metrics.pairsFiltered.Add(ctx, int64(dropped))
	}
	return out
}

// venueFor maps an index entry to a configured venue by dex id and, when
// the venue sets one, label.
func (d *Discovery) venueFor(p indexPair) (domain.Venue, bool) {
	for _, v := range d.venues {
		if !strings.EqualFold(v.IndexDexID, p.DexID) {
			continue
		}
		if v.IndexLabel == "" || p.hasLabel(v.IndexLabel) {
			return v, true
		}
	}
	return domain.Venue{}, false
}
