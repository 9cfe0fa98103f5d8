// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"

	"github.com/fd1az/pricestream/internal/asset"
	"github.com/fd1az/pricestream/internal/config"
	"github.com/fd1az/pricestream/internal/di"
	"github.com/fd1az/pricestream/internal/logger"
)

// Monolith is the main application container providing access to shared infrastructure.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	EthClient() *ethclient.Client
	AssetRegistry() *asset.Registry
	Router() gin.IRouter
	Services() di.ServiceRegistry
}

// Module represents a bounded context module that can register services and start up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// Global service names registered by New.
const (
	ConfigService        = "config"
	LoggerService        = "logger"
	EthClientService     = "ethClient"
	AssetRegistryService = "assetRegistry"
)

type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	ethClient     *ethclient.Client
	assetRegistry *asset.Registry
	router        *gin.Engine
	container     di.Container
}

// New dials the execution node and registers the shared services.
func New(ctx context.Context, cfg *config.Config, log logger.LoggerInterface, router *gin.Engine) (*app, error) {
	ethClient, err := ethclient.DialContext(ctx, cfg.Ethereum.HTTPURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Ethereum.HTTPURL, err)
	}

	// Seed tokens are known up front; the rest is filled by on-chain reads.
	assetRegistry := asset.DefaultRegistry()
	for _, seed := range cfg.Stream.SeedTokens {
		if seed.Symbol == "" || seed.Decimals == 0 {
			continue
		}
		assetRegistry.Put(asset.NewAssetWithName(seed.HexAddress(), seed.Symbol, seed.Name, seed.Decimals))
	}

	log.Info(ctx, "asset registry loaded", "tokens", assetRegistry.Count())

	container := di.NewContainer()
	container.Register(ConfigService, cfg)
	container.Register(LoggerService, log)
	container.Register(EthClientService, ethClient)
	container.Register(AssetRegistryService, assetRegistry)

	return &app{
		config:        cfg,
		logger:        log,
		ethClient:     ethClient,
		assetRegistry: assetRegistry,
		router:        router,
		container:     container,
	}, nil
}

func (a *app) Config() *config.Config {
	return a.config
}

func (a *app) Logger() logger.LoggerInterface {
	return a.logger
}

func (a *app) EthClient() *ethclient.Client {
	return a.ethClient
}

func (a *app) AssetRegistry() *asset.Registry {
	return a.assetRegistry
}

func (a *app) Router() gin.IRouter {
	return a.router
}

func (a *app) Services() di.ServiceRegistry {
	return a.container
}

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

// StartModules starts all provided modules in order.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all resources.
func (a *app) Close() error {
	if a.ethClient != nil {
		a.ethClient.Close()
	}
	return nil
}
