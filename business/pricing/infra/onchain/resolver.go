package onchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pricestream/business/pricing/app"
	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/asset"
)

var _ app.PoolResolver = (*Resolver)(nil)

// rateStrategy reads the kind-specific state of a pool and turns it into a
// rate for the target side.
type rateStrategy func(ctx context.Context, r *Reader, pool common.Address, t0, t1 *asset.Asset, targetIsToken0 bool) (*big.Int, error)

// DefaultProbeOrder is the order Resolve tries pool kinds in.
var DefaultProbeOrder = []domain.Kind{domain.KindConcentrated, domain.KindConstantProduct}

var strategies = map[domain.Kind]rateStrategy{
	domain.KindConcentrated:    concentratedRate,
	domain.KindConstantProduct: constantProductRate,
}

func concentratedRate(ctx context.Context, r *Reader, pool common.Address, t0, t1 *asset.Asset, targetIsToken0 bool) (*big.Int, error) {
	sqrtPrice, err := r.SqrtPriceX96(ctx, pool)
	if err != nil {
		return nil, err
	}
	return domain.ConcentratedRate(sqrtPrice, t0.Decimals(), t1.Decimals(), targetIsToken0)
}

func constantProductRate(ctx context.Context, r *Reader, pool common.Address, t0, t1 *asset.Asset, targetIsToken0 bool) (*big.Int, error) {
	r0, r1, err := r.Reserves(ctx, pool)
	if err != nil {
		return nil, err
	}
	return domain.ConstantProductRate(r0, r1, t0.Decimals(), t1.Decimals(), targetIsToken0)
}

// Resolver prices a single pool from its on-chain state.
type Resolver struct {
	reader *Reader
	order  []domain.Kind
	tracer trace.Tracer
}

// NewResolver creates a Resolver that probes kinds in DefaultProbeOrder.
func NewResolver(reader *Reader) *Resolver {
	return &Resolver{
		reader: reader,
		order:  DefaultProbeOrder,
		tracer: otel.Tracer(tracerName),
	}
}

// Resolve tries each pool kind in order and returns the first rate that
// comes out. Failures of individual kinds are not surfaced; if none works
// the result is app.ErrPoolNotFound.
func (r *Resolver) Resolve(ctx context.Context, target, pool common.Address) (domain.PoolQuote, error) {
	ctx, span := r.tracer.Start(ctx, "onchain.resolve",
		trace.WithAttributes(
			attribute.String("pool", pool.Hex()),
			attribute.String("target", target.Hex()),
		),
	)
	defer span.End()

	for _, kind := range r.order {
		q, err := r.ResolveAs(ctx, kind, target, pool)
		if err == nil {
			span.SetAttributes(attribute.String("kind", string(kind)))
			return q, nil
		}
		span.AddEvent("kind_failed", trace.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.String("error", err.Error()),
		))
	}

	span.SetStatus(codes.Error, "pool not found")
	return domain.PoolQuote{}, app.ErrPoolNotFound
}

// ResolveAs prices pool assuming it is of the given kind.
func (r *Resolver) ResolveAs(ctx context.Context, kind domain.Kind, target, pool common.Address) (domain.PoolQuote, error) {
	strategy, ok := strategies[kind]
	if !ok {
		return domain.PoolQuote{}, apperror.New(apperror.CodeUnknownVenue,
			apperror.WithContext(fmt.Sprintf("unsupported pool kind %q", kind)))
	}

	t0, t1, err := r.reader.PoolTokens(ctx, pool)
	if err != nil {
		return domain.PoolQuote{}, err
	}

	var targetIsToken0 bool
	switch target {
	case t0:
		targetIsToken0 = true
	case t1:
		targetIsToken0 = false
	default:
		return domain.PoolQuote{}, apperror.New(apperror.CodePoolNotFound,
			apperror.WithContext(fmt.Sprintf("%s does not hold %s", pool.Hex(), target.Hex())))
	}

	tok0, err := r.reader.Token(ctx, t0)
	if err != nil {
		return domain.PoolQuote{}, err
	}
	tok1, err := r.reader.Token(ctx, t1)
	if err != nil {
		return domain.PoolQuote{}, err
	}

	rate, err := strategy(ctx, r.reader, pool, tok0, tok1, targetIsToken0)
	if err != nil {
		return domain.PoolQuote{}, err
	}

	ref := tok1
	if !targetIsToken0 {
		ref = tok0
	}

	return domain.PoolQuote{
		Kind:            kind,
		Rate:            rate,
		ReferenceToken:  ref.Address(),
		ReferenceSymbol: ref.Symbol(),
	}, nil
}
