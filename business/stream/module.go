// Package stream tracks session subscriptions and pushes price changes.
package stream

import (
	"context"

	blockchainDI "github.com/fd1az/pricestream/business/blockchain/di"
	blockchain "github.com/fd1az/pricestream/business/blockchain/domain"
	pricingDI "github.com/fd1az/pricestream/business/pricing/di"
	"github.com/fd1az/pricestream/business/stream/app"
	streamDI "github.com/fd1az/pricestream/business/stream/di"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/business/stream/infra/postgres"
	"github.com/fd1az/pricestream/business/stream/infra/websocket"
	"github.com/fd1az/pricestream/internal/config"
	"github.com/fd1az/pricestream/internal/di"
	"github.com/fd1az/pricestream/internal/logger"
	"github.com/fd1az/pricestream/internal/monolith"
)

// Module implements the stream bounded context.
type Module struct {
	pool *postgres.Pool
}

// RegisterServices registers all stream services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Resolved lazily, after Startup has opened the pool.
	di.RegisterToken(c, streamDI.Catalog, func(sr di.ServiceRegistry) app.Catalog {
		if m.pool == nil {
			return app.NopCatalog{}
		}
		return postgres.NewCatalog(m.pool)
	})

	di.RegisterToken(c, streamDI.Engine, func(sr di.ServiceRegistry) *app.Engine {
		cfg := sr.Get(monolith.ConfigService).(*config.Config)
		log := sr.Get(monolith.LoggerService).(logger.LoggerInterface)

		engine, err := app.NewEngine(app.EngineConfig{
			RefreshInterval: cfg.Stream.RefreshInterval,
			TokenTimeout:    cfg.Stream.TokenTimeout,
			MaxConcurrency:  cfg.Stream.MaxConcurrency,
			SessionBuffer:   cfg.Stream.SessionBuffer,
			SessionTimeout:  cfg.Stream.SessionTimeout,
		},
			pricingDI.GetAggregator(sr),
			pricingDI.GetTokenMetadata(sr),
			streamDI.GetCatalog(sr),
			log,
		)
		if err != nil {
			panic("failed to create stream engine: " + err.Error())
		}
		return engine
	})

	return nil
}

// Startup opens the catalog, primes the seed tokens, mounts the session
// routes and starts the scheduler.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	log := mono.Logger()

	if cfg.Storage.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		m.pool = pool
		go func() {
			<-ctx.Done()
			pool.Close()
		}()
	}

	engine := streamDI.GetEngine(mono.Services())

	seeds := make([]domain.TokenRecord, 0, len(cfg.Stream.SeedTokens))
	for _, s := range cfg.Stream.SeedTokens {
		seeds = append(seeds, domain.TokenRecord{
			Address:  s.Address,
			Symbol:   s.Symbol,
			Name:     s.Name,
			Decimals: s.Decimals,
		})
	}
	engine.Bootstrap(ctx, seeds)

	handler := websocket.NewHandler(engine, websocket.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Stream.WriteTimeout,
		PingInterval:   cfg.Stream.PingInterval,
		MaxMessageSize: cfg.Stream.MaxMessageSize,
	}, log)
	handler.Register(mono.Router())

	var heads <-chan *blockchain.Block
	if cfg.Stream.RefreshOnBlock {
		blocks, err := blockchainDI.GetBlockchainService(mono.Services()).SubscribeBlocks(ctx)
		if err != nil {
			log.Warn(ctx, "block subscription failed, refreshing on the interval only", "error", err)
		} else {
			heads = blocks
		}
	}

	go func() {
		if err := engine.Run(ctx, heads); err != nil {
			log.Error(ctx, "stream engine stopped", "error", err)
		}
	}()

	log.Info(ctx, "stream module started",
		"seeds", len(seeds),
		"catalog", m.pool != nil,
		"refresh_on_block", heads != nil)
	return nil
}
