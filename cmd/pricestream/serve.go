package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/cobra"

	"github.com/fd1az/pricestream/business/blockchain"
	blockchainDI "github.com/fd1az/pricestream/business/blockchain/di"
	blockchainDomain "github.com/fd1az/pricestream/business/blockchain/domain"
	"github.com/fd1az/pricestream/business/pricing"
	pricingDI "github.com/fd1az/pricestream/business/pricing/di"
	"github.com/fd1az/pricestream/business/stream"
	streamDI "github.com/fd1az/pricestream/business/stream/di"
	"github.com/fd1az/pricestream/internal/apm"
	"github.com/fd1az/pricestream/internal/config"
	"github.com/fd1az/pricestream/internal/health"
	"github.com/fd1az/pricestream/internal/logger"
	"github.com/fd1az/pricestream/internal/metrics"
	"github.com/fd1az/pricestream/internal/monolith"
	"github.com/fd1az/pricestream/internal/web"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(ctx, "starting pricestream",
		"version", version,
		"environment", cfg.App.Environment,
	)

	router := web.NewRouter(cfg.Server.AllowedOrigins, log)

	traceProvider, err := setupTelemetry(ctx, cfg, log, router)
	if err != nil {
		return err
	}
	defer traceProvider.Stop()

	mono, err := monolith.New(ctx, cfg, log, router)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Dependency order: pricing needs nothing from stream, stream needs both.
	modules := []monolith.Module{
		&blockchain.Module{},
		&pricing.Module{},
		&stream.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	checks := health.NewHandler(version)
	registerChecks(checks, mono, cfg)
	checks.Register(router)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "http server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "http shutdown", "error", err)
	}
	return nil
}

// setupTelemetry installs tracing and metrics when enabled. The Prometheus
// scrape endpoint is mounted on the API router unless a dedicated port is
// configured.
func setupTelemetry(ctx context.Context, cfg *config.Config, log *logger.Logger, router *gin.Engine) (apm.TraceProvider, error) {
	if !cfg.Telemetry.Enabled {
		return apm.NewEmptyTraceProvider(), nil
	}

	traceProvider, err := apm.NewTraceProvider(log, apm.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Provider:    apm.Provider(cfg.Telemetry.TraceProvider),
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Headers:     cfg.Telemetry.OTLPHeaders,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	if _, err := metrics.NewMetricProvider(
		metrics.WithServiceName(cfg.Telemetry.ServiceName),
		metrics.WithProviderConfig(metrics.ProviderCfg{
			Provider: metrics.PrometheusProvider,
		}),
	); err != nil {
		traceProvider.Stop()
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	port := cfg.Telemetry.PrometheusPort
	if port == 0 {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
		log.Info(ctx, "prometheus metrics mounted", "path", "/metrics")
		return traceProvider, nil
	}

	go func() {
		if err := metrics.ServePrometheusMetrics(ctx, metrics.WithPort(strconv.Itoa(port))); err != nil {
			log.Error(ctx, "prometheus server", "error", err)
		}
	}()
	log.Info(ctx, "prometheus metrics server started", "port", port)
	return traceProvider, nil
}

func registerChecks(h *health.Handler, mono monolith.Monolith, cfg *config.Config) {
	services := mono.Services()

	reader := pricingDI.GetReader(services)
	h.RegisterCheck("onchain", func(context.Context) (bool, string) {
		state := reader.BreakerState()
		return state != gobreaker.StateOpen, state.String()
	})

	if cfg.Index.Enabled {
		index := pricingDI.GetIndex(services)
		h.RegisterCheck("index", func(context.Context) (bool, string) {
			if index.Healthy() {
				return true, ""
			}
			return false, "circuit open"
		})
	}

	chain := blockchainDI.GetBlockchainService(services)
	h.RegisterCheck("heads", func(context.Context) (bool, string) {
		status := chain.Status()
		msg := fmt.Sprintf("%s block=%d", status.State, status.LastBlock)
		if !cfg.Stream.RefreshOnBlock {
			return true, msg
		}
		return status.State == blockchainDomain.StateConnected, msg
	})

	engine := streamDI.GetEngine(services)
	h.RegisterCheck("stream", func(context.Context) (bool, string) {
		sessions, tracked, polled := engine.Stats()
		return true, fmt.Sprintf("sessions=%d tracked=%d polled=%d", sessions, tracked, polled)
	})
}
