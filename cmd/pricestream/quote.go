package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/fd1az/pricestream/business/pricing"
	pricingApp "github.com/fd1az/pricestream/business/pricing/app"
	pricingDI "github.com/fd1az/pricestream/business/pricing/di"
	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/monolith"
	"github.com/fd1az/pricestream/internal/web"
)

// quoteResult is what quote and pair print.
type quoteResult struct {
	Token  string            `json:"token"`
	Quote  string            `json:"quote,omitempty"`
	Best   *domain.PoolView  `json:"best,omitempty"`
	Prices []domain.PoolView `json:"prices,omitempty"`
}

// withPricing builds a container holding only the pricing services and
// hands the aggregator to fn. Nothing is started or mounted.
func withPricing(cmd *cobra.Command, fn func(ctx context.Context, agg *pricingApp.Aggregator, tokens pricingApp.TokenMetadata) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Stream.TokenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Stream.TokenTimeout)
		defer cancel()
	}

	mono, err := monolith.New(ctx, cfg, log, web.NewRouter(nil, log))
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	if err := mono.RegisterModules(&pricing.Module{}); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	services := mono.Services()
	return fn(ctx, pricingDI.GetAggregator(services), pricingDI.GetTokenMetadata(services))
}

func runQuote(cmd *cobra.Command, args []string) error {
	token, err := web.ParseAddress(args[0])
	if err != nil {
		return err
	}

	return withPricing(cmd, func(ctx context.Context, agg *pricingApp.Aggregator, tokens pricingApp.TokenMetadata) error {
		pools, err := agg.GetAllPrices(ctx, token)
		if err != nil {
			return err
		}

		out := quoteResult{Token: lower(token), Prices: make([]domain.PoolView, 0, len(pools))}
		for _, p := range pools {
			out.Prices = append(out.Prices, render(ctx, tokens, p))
		}
		if len(out.Prices) > 0 {
			out.Best = &out.Prices[0]
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}

func runPair(cmd *cobra.Command, args []string) error {
	tokenA, err := web.ParseAddress(args[0])
	if err != nil {
		return err
	}
	tokenB, err := web.ParseAddress(args[1])
	if err != nil {
		return err
	}

	return withPricing(cmd, func(ctx context.Context, agg *pricingApp.Aggregator, tokens pricingApp.TokenMetadata) error {
		best, err := agg.GetBestPair(ctx, tokenA, tokenB)
		if err != nil {
			return err
		}

		v := render(ctx, tokens, *best)
		return printJSON(cmd.OutOrStdout(), quoteResult{
			Token: lower(tokenA),
			Quote: lower(tokenB),
			Best:  &v,
		})
	})
}

func render(ctx context.Context, tokens pricingApp.TokenMetadata, p domain.PricedPool) domain.PoolView {
	if ref, err := tokens.Token(ctx, p.ReferenceToken); err == nil {
		dec := ref.Decimals()
		return p.View(&dec)
	}
	return p.View(nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func lower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
