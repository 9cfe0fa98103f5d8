// Package rest exposes read-only price lookups over HTTP.
package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/fd1az/pricestream/business/pricing/app"
	"github.com/fd1az/pricestream/business/pricing/domain"
	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/web"
)

// PriceService is the aggregator surface the handler needs.
type PriceService interface {
	GetAllPrices(ctx context.Context, target common.Address) ([]domain.PricedPool, error)
	GetBest(ctx context.Context, target common.Address) (*domain.PricedPool, error)
	GetBestPair(ctx context.Context, tokenA, tokenB common.Address) (*domain.PricedPool, error)
}

type pricesResponse struct {
	Token     string            `json:"token"`
	Timestamp int64             `json:"timestamp"`
	Prices    []domain.PoolView `json:"prices"`
}

type bestResponse struct {
	Token     string          `json:"token"`
	Quote     string          `json:"quote,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Best      domain.PoolView `json:"best"`
}

// Handler serves /v1/prices and /v1/pairs.
type Handler struct {
	prices  PriceService
	tokens  app.TokenMetadata
	timeout time.Duration
}

// NewHandler creates a Handler. Each lookup is bounded by timeout.
func NewHandler(prices PriceService, tokens app.TokenMetadata, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Handler{prices: prices, tokens: tokens, timeout: timeout}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.GET("/prices/:token", h.getPrices)
	v1.GET("/prices/:token/best", h.getBest)
	v1.GET("/pairs/:tokenA/:tokenB/best", h.getBestPair)
}

func (h *Handler) getPrices(c *gin.Context) {
	token, err := web.ParseAddress(c.Param("token"))
	if err != nil {
		web.Error(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	pools, err := h.prices.GetAllPrices(ctx, token)
	if err != nil {
		web.Error(c, apperror.New(apperror.CodeServiceTimeout, apperror.WithCause(err)))
		return
	}

	views := make([]domain.PoolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, h.view(ctx, p))
	}

	c.JSON(http.StatusOK, pricesResponse{
		Token:     lower(token),
		Timestamp: time.Now().UnixMilli(),
		Prices:    views,
	})
}

func (h *Handler) getBest(c *gin.Context) {
	token, err := web.ParseAddress(c.Param("token"))
	if err != nil {
		web.Error(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	best, err := h.prices.GetBest(ctx, token)
	if err != nil {
		web.Error(c, lookupError(err, token))
		return
	}

	c.JSON(http.StatusOK, bestResponse{
		Token:     lower(token),
		Timestamp: time.Now().UnixMilli(),
		Best:      h.view(ctx, *best),
	})
}

func (h *Handler) getBestPair(c *gin.Context) {
	tokenA, err := web.ParseAddress(c.Param("tokenA"))
	if err != nil {
		web.Error(c, err)
		return
	}
	tokenB, err := web.ParseAddress(c.Param("tokenB"))
	if err != nil {
		web.Error(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	best, err := h.prices.GetBestPair(ctx, tokenA, tokenB)
	if err != nil {
		web.Error(c, lookupError(err, tokenA))
		return
	}

	c.JSON(http.StatusOK, bestResponse{
		Token:     lower(tokenA),
		Quote:     lower(tokenB),
		Timestamp: time.Now().UnixMilli(),
		Best:      h.view(ctx, *best),
	})
}

// view renders p with a human price when the reference token's decimals
// can be read.
func (h *Handler) view(ctx context.Context, p domain.PricedPool) domain.PoolView {
	if h.tokens != nil {
		if ref, err := h.tokens.Token(ctx, p.ReferenceToken); err == nil {
			dec := ref.Decimals()
			return p.View(&dec)
		}
	}
	return p.View(nil)
}

func lookupError(err error, token common.Address) error {
	if apperror.IsAppError(err) {
		if apperror.HasCode(err, apperror.CodeNoPrice) {
			return apperror.NotFound(apperror.CodeNoPrice, lower(token))
		}
		return err
	}
	return apperror.New(apperror.CodeServiceTimeout, apperror.WithCause(err))
}

func lower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
