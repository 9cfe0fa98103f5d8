// Package web holds the gin router setup shared by every HTTP surface.
package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pricestream/internal/apperror"
	"github.com/fd1az/pricestream/internal/logger"
)

// NewRouter returns a gin engine with recovery, request logging and CORS
// for allowedOrigins. An empty list or "*" allows any origin.
func NewRouter(allowedOrigins []string, log logger.LoggerInterface) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}
	corsCfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	r.Use(cors.New(corsCfg))

	return r
}

func requestLogger(log logger.LoggerInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			var appErr *apperror.AppError
			if last := c.Errors.Last(); last != nil && errors.As(last.Err, &appErr) {
				args = append(args, "error", appErr.ToLog())
			}
			log.Warn(c.Request.Context(), "http request", args...)
			return
		}
		log.Debug(c.Request.Context(), "http request", args...)
	}
}

// ParseAddress validates a hex token address from a path or query value.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, apperror.Validation(apperror.CodeInvalidTokenAddr, s)
	}
	return common.HexToAddress(s), nil
}

// Error writes err as an apperror response tagged with the request's trace
// id. Unknown errors become 500s.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal(apperror.CodeInternalError, "", err)
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		appErr = appErr.WithTraceID(sc.TraceID().String())
	}
	c.Error(appErr)
	c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
}
