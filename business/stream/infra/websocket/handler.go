// Package websocket serves sessions over WebSocket and the token listing
// over REST.
package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/fd1az/pricestream/business/stream/app"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/internal/logger"
	"github.com/fd1az/pricestream/internal/web"
	"github.com/fd1az/pricestream/internal/wsconn"
)

// Engine is the session surface of app.Engine.
type Engine interface {
	Connect(ctx context.Context, tokens []common.Address) (*app.Session, error)
	Disconnect(ctx context.Context, id string)
	HandleMessage(ctx context.Context, id string, raw []byte)
	Tokens() []domain.TokenState
	Stats() (sessions, tracked, polled int)
}

// Config holds transport settings.
type Config struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// Handler serves /ws and /v1/tokens.
type Handler struct {
	engine Engine
	cfg    Config
	accept *websocket.AcceptOptions
	log    logger.LoggerInterface
}

// NewHandler creates a Handler.
func NewHandler(engine Engine, cfg Config, log logger.LoggerInterface) *Handler {
	opts := &websocket.AcceptOptions{}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = cfg.AllowedOrigins
	}

	return &Handler{engine: engine, cfg: cfg, accept: opts, log: log}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws", h.serve)
	r.GET("/v1/tokens", h.listTokens)
}

type tokensResponse struct {
	Timestamp int64               `json:"timestamp"`
	Sessions  int                 `json:"sessions"`
	Polled    int                 `json:"polled"`
	Tokens    []domain.TokenState `json:"tokens"`
}

func (h *Handler) listTokens(c *gin.Context) {
	sessions, _, polled := h.engine.Stats()
	c.JSON(http.StatusOK, tokensResponse{
		Timestamp: time.Now().UnixMilli(),
		Sessions:  sessions,
		Polled:    polled,
		Tokens:    h.engine.Tokens(),
	})
}

func (h *Handler) serve(c *gin.Context) {
	tokens, err := parseTokens(c.Query("tokens"))
	if err != nil {
		web.Error(c, err)
		return
	}

	cfg := wsconn.DefaultConfig("", "session")
	cfg.WriteTimeout = h.cfg.WriteTimeout
	cfg.PingInterval = h.cfg.PingInterval
	if h.cfg.MaxMessageSize > 0 {
		cfg.MaxMessageSize = h.cfg.MaxMessageSize
	}

	conn, err := wsconn.Accept(c.Writer, c.Request, cfg, h.accept)
	if err != nil {
		h.log.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ctx := c.Request.Context()
	sess, err := h.engine.Connect(ctx, tokens)
	if err != nil {
		conn.CloseWithReason(websocket.StatusInternalError, "session rejected")
		return
	}
	defer h.engine.Disconnect(context.WithoutCancel(ctx), sess.ID)

	conn.OnMessage(func(ctx context.Context, msg []byte) {
		h.engine.HandleMessage(ctx, sess.ID, msg)
	})

	go h.write(ctx, conn, sess)

	if err := conn.Run(ctx); err != nil {
		h.log.Debug(ctx, "session read loop ended", "session", sess.ID, "error", err)
	}
}

// write is the only writer for conn. It ends when the engine closes the
// session's outbound channel.
func (h *Handler) write(ctx context.Context, conn *wsconn.Conn, sess *app.Session) {
	for msg := range sess.Outbound() {
		if err := conn.Send(ctx, msg); err != nil {
			h.log.Info(ctx, "session send failed", "session", sess.ID, "error", err)
			h.engine.Disconnect(context.WithoutCancel(ctx), sess.ID)
			break
		}
	}
	conn.CloseWithReason(websocket.StatusGoingAway, "session closed")
}

func parseTokens(raw string) ([]common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		addr, err := web.ParseAddress(p)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
