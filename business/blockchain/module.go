// Package blockchain delivers chain heads used to trigger price refreshes.
package blockchain

import (
	"context"

	"github.com/fd1az/pricestream/business/blockchain/app"
	blockchainDI "github.com/fd1az/pricestream/business/blockchain/di"
	"github.com/fd1az/pricestream/business/blockchain/infra/ethereum"
	"github.com/fd1az/pricestream/internal/config"
	"github.com/fd1az/pricestream/internal/di"
	"github.com/fd1az/pricestream/internal/logger"
	"github.com/fd1az/pricestream/internal/monolith"
)

// Module implements the blockchain bounded context.
type Module struct{}

// RegisterServices registers all blockchain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, blockchainDI.BlockSubscriber, func(sr di.ServiceRegistry) app.BlockSubscriber {
		cfg := sr.Get(monolith.ConfigService).(*config.Config)
		log := sr.Get(monolith.LoggerService).(logger.LoggerInterface)

		subCfg := ethereum.DefaultSubscriberConfig(cfg.Ethereum.WebSocketURL, cfg.Ethereum.HTTPURL)
		if cfg.Ethereum.PollInterval > 0 {
			subCfg.PollInterval = cfg.Ethereum.PollInterval
		}
		if cfg.Ethereum.ReconnectDelay > 0 {
			subCfg.ReconnectDelay = cfg.Ethereum.ReconnectDelay
		}

		sub, err := ethereum.NewSubscriber(subCfg, log)
		if err != nil {
			panic("failed to create subscriber: " + err.Error())
		}
		return sub
	})

	di.RegisterToken(c, blockchainDI.BlockchainService, func(sr di.ServiceRegistry) *app.BlockchainService {
		return app.NewBlockchainService(blockchainDI.GetBlockSubscriber(sr))
	})

	return nil
}

// Startup logs the configured head source. The subscription itself is
// opened by whichever module consumes blocks.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	mono.Logger().Info(ctx, "blockchain module started",
		"ws", cfg.Ethereum.WebSocketURL != "",
		"refresh_on_block", cfg.Stream.RefreshOnBlock)
	return nil
}
