package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/pkg/logctx"
)

// RequestLoggerMiddleware attaches a request-scoped logger enriched with
// trace_id to gin.Context and request context. AuthMiddleware adds user_id.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetString(logctx.KeyTraceID)

		reqLogger := base.With("trace_id", traceID)
		setLogger(c, reqLogger)

		// mirror trace id to response header when available
		if traceID != "" {
			c.Writer.Header().Set("X-Request-ID", traceID)
		}

		c.Next()
	}
}

func setLogger(c *gin.Context, lg *zap.SugaredLogger) {
	c.Set(logctx.KeyLogger, lg)
	c.Request = c.Request.WithContext(logctx.WithLogger(c.Request.Context(), lg))
}
