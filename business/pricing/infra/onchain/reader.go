// Package onchain reads AMM pool and token state through an Ethereum node
// and turns it into exact exchange rates.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/pricestream/business/pricing/app"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/asset"
	"github.com/fd1az/pricestream/internal/circuitbreaker"
	"github.com/fd1az/pricestream/internal/logger"
)

const (
	tracerName = "onchain"
	meterName  = "onchain"
)

var _ app.TokenMetadata = (*Reader)(nil)

// readerMetrics holds OTEL metric instruments.
type readerMetrics struct {
	callsTotal  metric.Int64Counter
	callErrors  metric.Int64Counter
	callLatency metric.Float64Histogram
}

// Reader performs typed eth_call reads. Every call runs through a circuit
// breaker and carries its own timeout; nothing is retried.
type Reader struct {
	client   ethereum.ContractCaller
	abi      *contracts
	timeout  time.Duration
	registry *asset.Registry
	logger   logger.LoggerInterface
	cb       *circuitbreaker.CircuitBreaker[[]byte]
	metrics  *readerMetrics
}

// NewReader creates a Reader. registry doubles as the token metadata cache.
func NewReader(client ethereum.ContractCaller, registry *asset.Registry, timeout time.Duration, log logger.LoggerInterface) (*Reader, error) {
	parsed, err := parseContracts()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		registry = asset.NewRegistry()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := &Reader{
		client:   client,
		abi:      parsed,
		timeout:  timeout,
		registry: registry,
		logger:   log,
	}

	cbCfg := circuitbreaker.DefaultConfig("eth-call")
	cbCfg.IsSuccessful = nodeAnswered
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state changed",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	r.cb = circuitbreaker.New[[]byte](cbCfg)

	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return r, nil
}

// nodeAnswered treats JSON-RPC errors (reverts included) as a healthy node.
// Only transport failures count against the breaker.
func nodeAnswered(err error) bool {
	if err == nil {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func (r *Reader) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	r.metrics = &readerMetrics{}

	r.metrics.callsTotal, err = meter.Int64Counter(
		"onchain_calls_total",
		metric.WithDescription("Total eth_call reads"),
	)
	if err != nil {
		return err
	}

	r.metrics.callErrors, err = meter.Int64Counter(
		"onchain_call_errors_total",
		metric.WithDescription("Total failed eth_call reads"),
	)
	if err != nil {
		return err
	}

	r.metrics.callLatency, err = meter.Float64Histogram(
		"onchain_call_latency_ms",
		metric.WithDescription("eth_call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// BreakerState exposes the breaker for health checks.
func (r *Reader) BreakerState() gobreaker.State {
	return r.cb.State()
}

// call packs method, executes it against to and unpacks the outputs.
func (r *Reader) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	attrs := metric.WithAttributes(attribute.String("method", method))
	r.metrics.callsTotal.Add(ctx, 1, attrs)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.cb.Execute(func() ([]byte, error) {
		return r.client.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	r.metrics.callLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if err != nil {
		r.metrics.callErrors.Add(ctx, 1, attrs)
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s.%s", to.Hex(), method)))
	}
	if len(out) == 0 {
		r.metrics.callErrors.Add(ctx, 1, attrs)
		return nil, apperror.New(apperror.CodeInvalidContractResponse,
			apperror.WithContext(fmt.Sprintf("%s.%s returned no data", to.Hex(), method)))
	}

	values, err := contract.Unpack(method, out)
	if err != nil || len(values) == 0 {
		r.metrics.callErrors.Add(ctx, 1, attrs)
		return nil, apperror.New(apperror.CodeInvalidContractResponse,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s.%s", to.Hex(), method)))
	}
	return values, nil
}

// PoolTokens reads token0 and token1. Both pool designs share the selectors.
func (r *Reader) PoolTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	t0, err := r.address(ctx, pool, r.abi.v2Pair, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	t1, err := r.address(ctx, pool, r.abi.v2Pair, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return t0, t1, nil
}

// SqrtPriceX96 reads slot0().sqrtPriceX96 from a concentrated pool.
func (r *Reader) SqrtPriceX96(ctx context.Context, pool common.Address) (*big.Int, error) {
	values, err := r.call(ctx, pool, r.abi.v3Pool, "slot0")
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0], "sqrtPriceX96")
}

// Liquidity reads liquidity() from a concentrated pool.
func (r *Reader) Liquidity(ctx context.Context, pool common.Address) (*big.Int, error) {
	values, err := r.call(ctx, pool, r.abi.v3Pool, "liquidity")
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0], "liquidity")
}

// Reserves reads getReserves() from a constant-product pair.
func (r *Reader) Reserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	values, err := r.call(ctx, pair, r.abi.v2Pair, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, apperror.New(apperror.CodeInvalidContractResponse,
			apperror.WithContext(fmt.Sprintf("getReserves: %d outputs", len(values))))
	}
	r0, err := asBigInt(values[0], "reserve0")
	if err != nil {
		return nil, nil, err
	}
	r1, err := asBigInt(values[1], "reserve1")
	if err != nil {
		return nil, nil, err
	}
	return r0, r1, nil
}

// GetPool looks up a concentrated pool for a pair and fee tier. The zero
// address means no pool is deployed.
func (r *Reader) GetPool(ctx context.Context, factory, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	return r.address(ctx, factory, r.abi.v3Factory, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
}

// GetPair looks up a constant-product pair.
func (r *Reader) GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	return r.address(ctx, factory, r.abi.v2Factory, "getPair", tokenA, tokenB)
}

// Token returns cached ERC-20 metadata, reading it on first use. decimals
// is required; symbol and name fall back to the bytes32 layout and then to
// empty.
func (r *Reader) Token(ctx context.Context, addr common.Address) (*asset.Asset, error) {
	if a, ok := r.registry.Get(addr); ok {
		return a, nil
	}

	values, err := r.call(ctx, addr, r.abi.erc20, "decimals")
	if err != nil {
		return nil, apperror.New(apperror.CodeTokenMetadataError,
			apperror.WithCause(err),
			apperror.WithContext(addr.Hex()))
	}
	decimals, ok := values[0].(uint8)
	if !ok || decimals > asset.MaxDecimals {
		return nil, apperror.New(apperror.CodeTokenMetadataError,
			apperror.WithContext(fmt.Sprintf("%s: unusable decimals %v", addr.Hex(), values[0])))
	}

	a := asset.NewAssetWithName(addr, r.text(ctx, addr, "symbol"), r.text(ctx, addr, "name"), decimals)
	r.registry.Put(a)

	r.logger.Debug(ctx, "token metadata loaded",
		"token", addr.Hex(), "symbol", a.Symbol(), "decimals", decimals)
	return a, nil
}

func (r *Reader) text(ctx context.Context, addr common.Address, method string) string {
	if values, err := r.call(ctx, addr, r.abi.erc20, method); err == nil {
		if s, ok := values[0].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	if values, err := r.call(ctx, addr, r.abi.erc20Bytes, method); err == nil {
		if b, ok := values[0].([32]byte); ok {
			return strings.TrimSpace(strings.TrimRight(string(b[:]), "\x00"))
		}
	}
	return ""
}

func (r *Reader) address(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (common.Address, error) {
	values, err := r.call(ctx, to, contract, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, apperror.New(apperror.CodeInvalidContractResponse,
			apperror.WithContext(fmt.Sprintf("%s: unexpected type %T", method, values[0])))
	}
	return addr, nil
}

func asBigInt(v any, field string) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, apperror.New(apperror.CodeInvalidContractResponse,
			apperror.WithContext(fmt.Sprintf("%s: unexpected type %T", field, v)))
	}
	return n, nil
}
