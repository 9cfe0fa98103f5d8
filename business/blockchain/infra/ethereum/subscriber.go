// Package ethereum provides the chain head subscriber.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pricestream/business/blockchain/domain"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/circuitbreaker"
	"github.com/fd1az/pricestream/internal/logger"
)

const (
	tracerName = "github.com/fd1az/pricestream/business/blockchain/infra/ethereum"
	meterName  = "github.com/fd1az/pricestream/business/blockchain/infra/ethereum"
)

// SubscriberConfig holds configuration for the head subscriber.
type SubscriberConfig struct {
	WSURL          string        // WebSocket endpoint (primary)
	HTTPURL        string        // HTTP endpoint (fallback)
	PollInterval   time.Duration // Polling interval for HTTP fallback
	ReconnectDelay time.Duration // Delay before reconnecting WS
	BufferSize     int           // Block channel buffer size
}

// DefaultSubscriberConfig returns sensible defaults.
func DefaultSubscriberConfig(wsURL, httpURL string) SubscriberConfig {
	return SubscriberConfig{
		WSURL:          wsURL,
		HTTPURL:        httpURL,
		PollInterval:   12 * time.Second, // ~1 block time
		ReconnectDelay: 5 * time.Second,
		BufferSize:     16,
	}
}

type subscriberMetrics struct {
	blocksReceived   metric.Int64Counter
	subscribeErrors  metric.Int64Counter
	connectionState  metric.Int64Gauge
	httpFallbackUsed metric.Int64Counter
}

// Subscriber implements app.BlockSubscriber. It subscribes to new heads
// over WebSocket and falls back to polling over HTTP.
type Subscriber struct {
	config SubscriberConfig
	logger logger.LoggerInterface

	clientMu   sync.RWMutex
	wsClient   *ethclient.Client
	httpClient *ethclient.Client

	stateMu    sync.RWMutex
	state      domain.ConnectionState
	usingHTTP  atomic.Bool
	lastBlock  atomic.Uint64
	reconnects atomic.Int32

	blocks    chan *domain.Block
	done      chan struct{}
	closeOnce sync.Once

	httpCB *circuitbreaker.CircuitBreaker[*types.Header]

	tracer  trace.Tracer
	metrics *subscriberMetrics
}

// NewSubscriber creates a new head subscriber.
func NewSubscriber(cfg SubscriberConfig, log logger.LoggerInterface) (*Subscriber, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	s := &Subscriber{
		config: cfg,
		logger: log,
		state:  domain.StateDisconnected,
		blocks: make(chan *domain.Block, cfg.BufferSize),
		done:   make(chan struct{}),
		tracer: otel.Tracer(tracerName),
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	cbCfg := circuitbreaker.DefaultConfig("eth-heads")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		s.logger.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	s.httpCB = circuitbreaker.New[*types.Header](cbCfg)

	return s, nil
}

func (s *Subscriber) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &subscriberMetrics{}

	s.metrics.blocksReceived, err = meter.Int64Counter(
		"eth_blocks_received_total",
		metric.WithDescription("Total chain heads received"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	s.metrics.subscribeErrors, err = meter.Int64Counter(
		"eth_subscribe_errors_total",
		metric.WithDescription("Total head subscription errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	s.metrics.connectionState, err = meter.Int64Gauge(
		"eth_connection_state",
		metric.WithDescription("Head subscription state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return err
	}

	s.metrics.httpFallbackUsed, err = meter.Int64Counter(
		"eth_http_fallback_total",
		metric.WithDescription("Times HTTP polling replaced the WebSocket subscription"),
		metric.WithUnit("{fallback}"),
	)
	return err
}

// Subscribe starts delivering heads until ctx ends or Close is called.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan *domain.Block, error) {
	ctx, span := s.tracer.Start(ctx, "eth.subscribe",
		trace.WithAttributes(attribute.Bool("ws_configured", s.config.WSURL != "")),
	)
	defer span.End()

	select {
	case <-s.done:
		return nil, apperror.New(apperror.CodeEthereumSubscribeFailed, apperror.WithContext("subscriber is closed"))
	default:
	}

	s.setState(domain.StateConnecting)

	if err := s.connectWS(ctx); err != nil {
		s.logger.Warn(ctx, "ws connection failed, trying http fallback", "error", err)
		span.AddEvent("ws_failed_trying_http")

		if err := s.connectHTTP(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "both connections failed")
			s.setState(domain.StateDisconnected)
			return nil, apperror.New(apperror.CodeEthereumConnectionFailed,
				apperror.WithCause(err),
				apperror.WithContext("failed to connect via WS and HTTP"))
		}

		s.usingHTTP.Store(true)
		go s.runHTTPPoller(ctx)
	} else {
		go s.runWSSubscription(ctx)
	}

	s.setState(domain.StateConnected)
	span.SetStatus(codes.Ok, "subscribed")
	return s.blocks, nil
}

func (s *Subscriber) connectWS(ctx context.Context) error {
	if s.config.WSURL == "" {
		return errors.New("ws url not configured")
	}
	client, err := ethclient.DialContext(ctx, s.config.WSURL)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}

	s.clientMu.Lock()
	if s.wsClient != nil {
		s.wsClient.Close()
	}
	s.wsClient = client
	s.clientMu.Unlock()
	return nil
}

func (s *Subscriber) connectHTTP(ctx context.Context) error {
	s.clientMu.RLock()
	connected := s.httpClient != nil
	s.clientMu.RUnlock()
	if connected {
		return nil
	}

	if s.config.HTTPURL == "" {
		return errors.New("http url not configured")
	}
	client, err := ethclient.DialContext(ctx, s.config.HTTPURL)
	if err != nil {
		return fmt.Errorf("dial http: %w", err)
	}

	s.clientMu.Lock()
	s.httpClient = client
	s.clientMu.Unlock()
	return nil
}

func (s *Subscriber) runWSSubscription(ctx context.Context) {
	s.clientMu.RLock()
	client := s.wsClient
	s.clientMu.RUnlock()

	headers := make(chan *types.Header, s.config.BufferSize)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		s.logger.Error(ctx, "subscribe new head failed", "error", err)
		s.metrics.subscribeErrors.Add(ctx, 1)
		s.reconnect(ctx)
		return
	}
	defer sub.Unsubscribe()

	s.logger.Info(ctx, "subscribed to new heads via ws")

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				s.logger.Error(ctx, "subscription error", "error", err)
				s.metrics.subscribeErrors.Add(ctx, 1)
			}
			s.reconnect(ctx)
			return
		case header := <-headers:
			if header != nil {
				s.emit(ctx, header)
			}
		}
	}
}

// reconnect retries the WebSocket once after ReconnectDelay and switches to
// HTTP polling when that fails.
func (s *Subscriber) reconnect(ctx context.Context) {
	s.setState(domain.StateReconnecting)
	s.reconnects.Add(1)

	select {
	case <-s.done:
		return
	case <-ctx.Done():
		return
	case <-time.After(s.config.ReconnectDelay):
	}

	err := s.connectWS(ctx)
	if err == nil {
		s.usingHTTP.Store(false)
		s.setState(domain.StateConnected)
		go s.runWSSubscription(ctx)
		return
	}
	s.logger.Warn(ctx, "ws reconnect failed, switching to http", "error", err)

	if err := s.connectHTTP(ctx); err != nil {
		s.logger.Error(ctx, "http fallback connection failed", "error", err)
		s.setState(domain.StateDisconnected)
		return
	}

	s.usingHTTP.Store(true)
	s.metrics.httpFallbackUsed.Add(ctx, 1)
	s.setState(domain.StateConnected)
	go s.runHTTPPoller(ctx)
}

func (s *Subscriber) runHTTPPoller(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "starting http polling fallback", "interval", s.config.PollInterval)

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Subscriber) poll(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "eth.poll.head")
	defer span.End()

	header, err := s.latestHeader(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn(ctx, "http poll failed", "error", err)
		s.metrics.subscribeErrors.Add(ctx, 1)
		return
	}

	if header.Number.Uint64() <= s.lastBlock.Load() {
		return
	}
	s.emit(ctx, header)
}

func (s *Subscriber) latestHeader(ctx context.Context) (*types.Header, error) {
	s.clientMu.RLock()
	client := s.httpClient
	if client == nil {
		client = s.wsClient
	}
	s.clientMu.RUnlock()

	if client == nil {
		return nil, apperror.New(apperror.CodeEthereumConnectionFailed,
			apperror.WithContext("no ethereum client connected"))
	}

	return s.httpCB.Execute(func() (*types.Header, error) {
		return client.HeaderByNumber(ctx, nil)
	})
}

// emit forwards a head without blocking. A slow consumer only loses
// intermediate heads, the next one triggers the same refresh.
func (s *Subscriber) emit(ctx context.Context, header *types.Header) {
	block := toBlock(header)
	s.lastBlock.Store(block.Number)

	select {
	case <-s.done:
	case s.blocks <- block:
		s.metrics.blocksReceived.Add(ctx, 1)
		s.logger.Debug(ctx, "block received", "number", block.Number)
	default:
		s.logger.Warn(ctx, "block dropped, buffer full", "number", block.Number)
	}
}

func toBlock(header *types.Header) *domain.Block {
	return &domain.Block{
		Number:    header.Number.Uint64(),
		Hash:      header.Hash(),
		Timestamp: time.Unix(int64(header.Time), 0),
		BaseFee:   header.BaseFee,
	}
}

// LatestBlock retrieves the most recent block.
func (s *Subscriber) LatestBlock(ctx context.Context) (*domain.Block, error) {
	if err := s.connectHTTP(ctx); err != nil {
		s.logger.Debug(ctx, "http client unavailable for latest block", "error", err)
	}

	header, err := s.latestHeader(ctx)
	if err != nil {
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, apperror.New(apperror.CodeBlockNotFound,
			apperror.WithCause(err),
			apperror.WithContext("failed to fetch latest block"))
	}
	return toBlock(header), nil
}

// Status returns detailed connection status.
func (s *Subscriber) Status() domain.ConnectionStatus {
	s.stateMu.RLock()
	state := s.state
	s.stateMu.RUnlock()

	return domain.ConnectionStatus{
		State:      state,
		LastBlock:  s.lastBlock.Load(),
		Reconnects: int(s.reconnects.Load()),
		UsingHTTP:  s.usingHTTP.Load(),
	}
}

// Close stops delivery and closes the node connections.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.clientMu.Lock()
		if s.wsClient != nil {
			s.wsClient.Close()
			s.wsClient = nil
		}
		if s.httpClient != nil {
			s.httpClient.Close()
			s.httpClient = nil
		}
		s.clientMu.Unlock()

		s.setState(domain.StateDisconnected)
	})
	return nil
}

func (s *Subscriber) setState(state domain.ConnectionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	s.metrics.connectionState.Record(context.Background(), state.Gauge())
}
