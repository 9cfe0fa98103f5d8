package websocket

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricing "github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/business/stream/app"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/internal/asset"
	"github.com/fd1az/pricestream/internal/logger"
)

const uniHex = "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"

type stubPricer struct{}

func (stubPricer) GetAllPrices(_ context.Context, target common.Address) ([]pricing.PricedPool, error) {
	return []pricing.PricedPool{{
		Venue:           "uniswap-v2",
		Pool:            common.HexToAddress("0xd3d2E2692501A5c9Ca623199D38826e513033a17"),
		Liquidity:       decimal.NewFromInt(10),
		LiquidityUnit:   pricing.LiquidityNative,
		Rate:            big.NewInt(2_500_000_000_000_000),
		ReferenceToken:  asset.AddrWETHEthereum,
		ReferenceSymbol: "WETH",
	}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine, err := app.NewEngine(app.EngineConfig{}, stubPricer{}, nil, nil, logger.NewDiscard())
	require.NoError(t, err)

	r := gin.New()
	NewHandler(engine, Config{WriteTimeout: time.Second}, logger.NewDiscard()).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, engine
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHandler_WelcomeAndPing(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "?tokens="+uniHex)

	var welcome domain.StateMessage
	readJSON(t, conn, &welcome)
	assert.Equal(t, domain.TypeState, welcome.Type)
	assert.Equal(t, domain.ReasonWelcome, welcome.Reason)
	require.Contains(t, welcome.Tokens, uniHex)
	assert.True(t, welcome.Tokens[uniHex].Initialized)
	assert.Equal(t, "2500000000000000", welcome.Tokens[uniHex].Prices["uniswap-v2"].Rate)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"ping"}`)))

	var pong domain.PongMessage
	readJSON(t, conn, &pong)
	assert.Equal(t, domain.TypePong, pong.Type)
	assert.NotZero(t, pong.Timestamp)
}

func TestHandler_MalformedMessageKeepsSession(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "")

	var welcome domain.StateMessage
	readJSON(t, conn, &welcome)
	assert.Empty(t, welcome.Tokens)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`not json`)))

	var notice domain.ErrorMessage
	readJSON(t, conn, &notice)
	assert.Equal(t, domain.TypeError, notice.Type)
	assert.Equal(t, "INVALID_MESSAGE", notice.Code)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText,
		[]byte(`{"type":"subscribe","tokens":["`+uniHex+`"]}`)))

	var ack domain.AckMessage
	readJSON(t, conn, &ack)
	assert.Equal(t, domain.TypeSubscribed, ack.Type)
	assert.Equal(t, []string{uniHex}, ack.Tokens)
}

func TestHandler_DisconnectDropsSession(t *testing.T) {
	srv, engine := newTestServer(t)
	conn := dial(t, srv, "?tokens="+uniHex)

	var welcome domain.StateMessage
	readJSON(t, conn, &welcome)

	sessions, _, _ := engine.Stats()
	require.Equal(t, 1, sessions)

	conn.Close(websocket.StatusNormalClosure, "bye")

	assert.Eventually(t, func() bool {
		sessions, _, polled := engine.Stats()
		return sessions == 0 && polled == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsBadTokens(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws?tokens=0xnot-an-address")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ListTokens(t *testing.T) {
	srv, engine := newTestServer(t)
	engine.Refresh(context.Background(), []string{uniHex}, false)

	resp, err := http.Get(srv.URL + "/v1/tokens")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body tokensResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tokens, 1)
	assert.Equal(t, uniHex, body.Tokens[0].Address)
	assert.True(t, body.Tokens[0].Initialized)
	assert.Zero(t, body.Sessions)
}
