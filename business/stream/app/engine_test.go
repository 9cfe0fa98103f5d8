package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricing "github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/internal/asset"
	"github.com/fd1az/pricestream/internal/logger"
)

var (
	tokenX = common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	tokenY = common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA")
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenZ = common.HexToAddress("0x00000000000000000000000000000000000000A7")
)

type gate struct {
	entered chan struct{}
	release chan struct{}
}

type fakePricer struct {
	mu    sync.Mutex
	rates map[common.Address]int64
	fail  map[common.Address]bool
	calls map[common.Address]int
	gates map[common.Address]*gate
}

func newFakePricer() *fakePricer {
	return &fakePricer{
		rates: make(map[common.Address]int64),
		fail:  make(map[common.Address]bool),
		calls: make(map[common.Address]int),
		gates: make(map[common.Address]*gate),
	}
}

// hold makes lookups of token block until release is closed.
func (f *fakePricer) hold(token common.Address) *gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.gates[token] = g
	return g
}

func (f *fakePricer) set(token common.Address, rate int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[token] = rate
	f.fail[token] = false
}

func (f *fakePricer) breakToken(token common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[token] = true
}

func (f *fakePricer) callCount(token common.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[token]
}

func (f *fakePricer) GetAllPrices(_ context.Context, target common.Address) ([]pricing.PricedPool, error) {
	f.mu.Lock()
	g := f.gates[target]
	f.mu.Unlock()
	if g != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[target]++

	if f.fail[target] {
		return nil, errors.New("node down")
	}
	rate, ok := f.rates[target]
	if !ok {
		return nil, nil
	}
	return []pricing.PricedPool{{
		Venue:           "uniswap-v3",
		Pool:            common.BigToAddress(big.NewInt(rate)),
		Liquidity:       decimal.NewFromInt(1000),
		LiquidityUnit:   pricing.LiquidityNative,
		Rate:            big.NewInt(rate),
		ReferenceToken:  weth,
		ReferenceSymbol: "WETH",
	}}, nil
}

type fakeTokens struct{}

func (fakeTokens) Token(_ context.Context, addr common.Address) (*asset.Asset, error) {
	switch addr {
	case weth:
		return asset.NewAsset(addr, "WETH", 18), nil
	case tokenX:
		return asset.NewAsset(addr, "UNI", 18), nil
	case tokenY:
		return asset.NewAsset(addr, "LINK", 18), nil
	}
	return nil, errors.New("not a token")
}

// countingTokens serves tokenZ, a zero-decimals token, and counts lookups.
type countingTokens struct {
	mu    sync.Mutex
	calls map[common.Address]int
}

func (c *countingTokens) Token(ctx context.Context, addr common.Address) (*asset.Asset, error) {
	c.mu.Lock()
	c.calls[addr]++
	c.mu.Unlock()
	if addr == tokenZ {
		return asset.NewAsset(addr, "CARD", 0), nil
	}
	return fakeTokens{}.Token(ctx, addr)
}

func (c *countingTokens) count(addr common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[addr]
}

type memCatalog struct {
	mu    sync.Mutex
	saved map[string]domain.TokenRecord
	load  []domain.TokenRecord
}

func (c *memCatalog) LoadTokens(context.Context) ([]domain.TokenRecord, error) {
	return c.load, nil
}

func (c *memCatalog) SaveToken(_ context.Context, rec domain.TokenRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		c.saved = make(map[string]domain.TokenRecord)
	}
	c.saved[rec.Address] = rec
	return nil
}

func newTestEngine(t *testing.T, pricer Pricer, catalog Catalog, cfg EngineConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, pricer, fakeTokens{}, catalog, logger.NewDiscard())
	require.NoError(t, err)
	return e
}

type received struct {
	Type   domain.MessageType           `json:"type"`
	Reason string                       `json:"reason"`
	Code   string                       `json:"code"`
	Tokens json.RawMessage              `json:"tokens"`
	States map[string]domain.TokenState `json:"-"`
}

// drain decodes every message queued for sess without blocking.
func drain(t *testing.T, sess *Session) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data, ok := <-sess.Outbound():
			if !ok {
				return out
			}
			var msg received
			require.NoError(t, json.Unmarshal(data, &msg))
			if msg.Type == domain.TypeState {
				require.NoError(t, json.Unmarshal(msg.Tokens, &msg.States))
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestEngine_FirstLoadIsBaseline(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	e := newTestEngine(t, pricer, nil, EngineConfig{})

	changed := e.Refresh(context.Background(), []string{key(tokenX)}, true)
	assert.Empty(t, changed, "first load is a baseline")

	changed = e.Refresh(context.Background(), []string{key(tokenX)}, true)
	assert.Empty(t, changed, "identical result is not a change")

	pricer.set(tokenX, 101)
	changed = e.Refresh(context.Background(), []string{key(tokenX)}, true)
	assert.Equal(t, []string{key(tokenX)}, changed)
}

func TestEngine_FailureHandling(t *testing.T) {
	pricer := newFakePricer()
	pricer.breakToken(tokenX)
	pricer.set(tokenY, 7)
	e := newTestEngine(t, pricer, nil, EngineConfig{})

	e.Refresh(context.Background(), []string{key(tokenX), key(tokenY)}, false)

	states := tokenStates(e)
	x := states[key(tokenX)]
	assert.False(t, x.Initialized)
	assert.True(t, x.Prices.HasError(), "tried and failed is distinguishable from not tried")
	assert.Equal(t, "UNI", x.Symbol, "metadata is fetched in the same pass")

	y := states[key(tokenY)]
	assert.True(t, y.Initialized, "a failing token does not affect its siblings")
	require.Contains(t, y.Prices, "uniswap-v3")
	assert.Equal(t, "7", y.Prices["uniswap-v3"].Rate)
	assert.Equal(t, "0.000000000000000007", y.Prices["uniswap-v3"].Price)

	pricer.breakToken(tokenY)
	changed := e.Refresh(context.Background(), []string{key(tokenY)}, true)
	assert.Empty(t, changed)

	y = tokenStates(e)[key(tokenY)]
	assert.True(t, y.Initialized)
	assert.Equal(t, "7", y.Prices["uniswap-v3"].Rate, "last good map is kept")
}

func TestEngine_WelcomeAfterPrime(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	e := newTestEngine(t, pricer, nil, EngineConfig{})

	sess, err := e.Connect(context.Background(), []common.Address{tokenX})
	require.NoError(t, err)

	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TypeState, msgs[0].Type)
	assert.Equal(t, domain.ReasonWelcome, msgs[0].Reason)

	x := msgs[0].States[key(tokenX)]
	assert.True(t, x.Initialized)
	assert.False(t, x.Prices.HasError())
	assert.NotZero(t, x.UpdatedAt)
}

func TestEngine_ResubscribeServesCachedMap(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	e := newTestEngine(t, pricer, nil, EngineConfig{})
	ctx := context.Background()

	sess, err := e.Connect(ctx, []common.Address{tokenX})
	require.NoError(t, err)
	drain(t, sess)

	e.HandleMessage(ctx, sess.ID, []byte(`{"type":"unsubscribe","tokens":["`+tokenX.Hex()+`"]}`))
	_, _, polled := e.Stats()
	assert.Zero(t, polled, "token left the polling set")

	pricer.set(tokenX, 555)
	calls := pricer.callCount(tokenX)

	e.HandleMessage(ctx, sess.ID, []byte(`{"type":"subscribe","tokens":["`+tokenX.Hex()+`"]}`))
	assert.Equal(t, calls, pricer.callCount(tokenX), "initialized token is not re-resolved on subscribe")

	msgs := drain(t, sess)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.TypeUnsubscribed, msgs[0].Type)
	assert.Equal(t, domain.TypeSubscribed, msgs[1].Type)
	assert.Equal(t, domain.TypeState, msgs[2].Type)
	assert.Equal(t, "100", msgs[2].States[key(tokenX)].Prices["uniswap-v3"].Rate, "stale cached map")
}

func TestEngine_FanOutOnlyToInterestedSessions(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	pricer.set(tokenY, 200)
	e := newTestEngine(t, pricer, nil, EngineConfig{})
	ctx := context.Background()

	s1, err := e.Connect(ctx, []common.Address{tokenX})
	require.NoError(t, err)
	s2, err := e.Connect(ctx, []common.Address{tokenY})
	require.NoError(t, err)
	drain(t, s1)
	drain(t, s2)

	pricer.set(tokenX, 150)
	changed := e.RefreshAll(ctx, true)
	assert.Equal(t, []string{key(tokenX)}, changed)

	m1 := drain(t, s1)
	require.Len(t, m1, 1)
	assert.Equal(t, domain.ReasonUpdate, m1[0].Reason)
	assert.Equal(t, "150", m1[0].States[key(tokenX)].Prices["uniswap-v3"].Rate)

	assert.Empty(t, drain(t, s2))
}

func TestEngine_UpdateCarriesEverySubscribedToken(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	pricer.set(tokenY, 200)
	e := newTestEngine(t, pricer, nil, EngineConfig{})
	ctx := context.Background()

	sess, err := e.Connect(ctx, []common.Address{tokenX, tokenY})
	require.NoError(t, err)
	drain(t, sess)

	pricer.set(tokenY, 201)
	e.RefreshAll(ctx, true)

	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].States, 2, "unchanged tokens are resent")
}

func TestEngine_FullBufferDropsSession(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	e := newTestEngine(t, pricer, nil, EngineConfig{SessionBuffer: 1})
	ctx := context.Background()

	sess, err := e.Connect(ctx, []common.Address{tokenX})
	require.NoError(t, err)

	// The welcome fills the buffer; the next push cannot be queued.
	e.HandleMessage(ctx, sess.ID, []byte(`{"type":"get_state"}`))

	sessions, _, polled := e.Stats()
	assert.Zero(t, sessions)
	assert.Zero(t, polled)

	<-sess.Outbound()
	_, open := <-sess.Outbound()
	assert.False(t, open, "outbound channel is closed")
}

func TestEngine_HandleMessageErrors(t *testing.T) {
	e := newTestEngine(t, newFakePricer(), nil, EngineConfig{})
	ctx := context.Background()

	sess, err := e.Connect(ctx, nil)
	require.NoError(t, err)
	drain(t, sess)

	tests := []struct {
		name string
		raw  string
		want domain.MessageType
		code string
	}{
		{"malformed", `{"type":`, domain.TypeError, "INVALID_MESSAGE"},
		{"unknown type", `{"type":"teleport"}`, domain.TypeError, "INVALID_MESSAGE_TYPE"},
		{"bad address", `{"type":"subscribe","tokens":["0xnope"]}`, domain.TypeError, "INVALID_TOKEN_ADDRESS"},
		{"empty tokens", `{"type":"unsubscribe","tokens":[]}`, domain.TypeError, "INVALID_MESSAGE"},
		{"ping", `{"type":"ping"}`, domain.TypePong, ""},
		{"get_state", `{"type":"get_state"}`, domain.TypeState, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.HandleMessage(ctx, sess.ID, []byte(tt.raw))
			msgs := drain(t, sess)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Type)
			assert.Equal(t, tt.code, msgs[0].Code)
		})
	}

	sessions, _, _ := e.Stats()
	assert.Equal(t, 1, sessions, "errors never drop the session")
}

func TestEngine_ReapIdleSessions(t *testing.T) {
	e := newTestEngine(t, newFakePricer(), nil, EngineConfig{SessionTimeout: time.Minute})
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }

	idle, err := e.Connect(ctx, nil)
	require.NoError(t, err)
	active, err := e.Connect(ctx, nil)
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	e.HandleMessage(ctx, active.ID, []byte(`{"type":"ping"}`))

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, e.Reap(ctx))

	drain(t, idle)
	_, open := <-idle.Outbound()
	assert.False(t, open)

	sessions, _, _ := e.Stats()
	assert.Equal(t, 1, sessions)
}

func TestEngine_Bootstrap(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	pricer.set(tokenY, 200)

	catalog := &memCatalog{load: []domain.TokenRecord{{
		Address:     key(tokenY),
		Symbol:      "LINK",
		Decimals:    18,
		Initialized: true,
		Prices:      domain.PriceMap{},
	}}}
	e := newTestEngine(t, pricer, catalog, EngineConfig{})

	e.Bootstrap(context.Background(), []domain.TokenRecord{{Address: tokenX.Hex(), Symbol: "UNI", Decimals: 18}})

	states := tokenStates(e)
	require.Len(t, states, 2)
	assert.True(t, states[key(tokenX)].Initialized)
	assert.Equal(t, "200", states[key(tokenY)].Prices["uniswap-v3"].Rate)

	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	assert.Contains(t, catalog.saved, key(tokenX))
	assert.Contains(t, catalog.saved, key(tokenY))
}

func TestEngine_RefreshAllRetriesUnprimedSeeds(t *testing.T) {
	pricer := newFakePricer()
	pricer.breakToken(tokenX)
	e := newTestEngine(t, pricer, nil, EngineConfig{})

	e.Bootstrap(context.Background(), []domain.TokenRecord{{Address: tokenX.Hex()}})
	assert.False(t, tokenStates(e)[key(tokenX)].Initialized)

	pricer.set(tokenX, 9)
	e.RefreshAll(context.Background(), true)
	assert.True(t, tokenStates(e)[key(tokenX)].Initialized)

	calls := pricer.callCount(tokenX)
	e.RefreshAll(context.Background(), true)
	assert.Equal(t, calls, pricer.callCount(tokenX), "primed seeds without subscribers are not polled")
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, newFakePricer(), nil, EngineConfig{RefreshInterval: 10 * time.Millisecond})

	sess, err := e.Connect(context.Background(), nil)
	require.NoError(t, err)
	drain(t, sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, nil) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	_, open := <-sess.Outbound()
	assert.False(t, open, "sessions are closed on shutdown")
}

func tokenStates(e *Engine) map[string]domain.TokenState {
	out := make(map[string]domain.TokenState)
	for _, s := range e.Tokens() {
		out[s.Address] = s
	}
	return out
}

func TestEngine_NoUpdateBeforeWelcome(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenX, 100)
	pricer.set(tokenY, 7)
	e := newTestEngine(t, pricer, nil, EngineConfig{})
	ctx := context.Background()

	e.Refresh(ctx, []string{key(tokenX)}, false)

	// A notifying pass is in flight when the session joins.
	pricer.set(tokenX, 200)
	g := pricer.hold(tokenX)
	done := make(chan []string, 1)
	go func() { done <- e.Refresh(ctx, []string{key(tokenX)}, true) }()
	<-g.entered

	connected := make(chan *Session, 1)
	go func() {
		sess, err := e.Connect(ctx, []common.Address{tokenX, tokenY})
		assert.NoError(t, err)
		connected <- sess
	}()
	require.Eventually(t, func() bool {
		sessions, _, _ := e.Stats()
		return sessions == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(g.release)
	assert.Equal(t, []string{key(tokenX)}, <-done)

	sess := <-connected
	require.NotNil(t, sess)

	msgs := drain(t, sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TypeState, msgs[0].Type)
	assert.Equal(t, domain.ReasonWelcome, msgs[0].Reason)
}

func TestEngine_ZeroDecimalsMetadataFetchedOnce(t *testing.T) {
	pricer := newFakePricer()
	pricer.set(tokenZ, 5)
	tokens := &countingTokens{calls: make(map[common.Address]int)}
	e, err := NewEngine(EngineConfig{}, pricer, tokens, nil, logger.NewDiscard())
	require.NoError(t, err)

	ctx := context.Background()
	e.Refresh(ctx, []string{key(tokenZ)}, false)
	e.Refresh(ctx, []string{key(tokenZ)}, false)

	assert.Equal(t, 1, tokens.count(tokenZ))

	states := e.Tokens()
	require.Len(t, states, 1)
	assert.Equal(t, "CARD", states[0].Symbol)
	assert.Zero(t, states[0].Decimals)
}
