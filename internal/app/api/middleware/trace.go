package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/tool"
)

// TraceMiddleware adds a trace ID to the request context.
// It reads X-Request-ID if provided by the client; otherwise generates a UUID.
// An incoming W3C traceparent header is extracted so service spans join the caller's trace.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = tool.GenerateUUIDV7()
		}

		c.Set(logctx.KeyTraceID, traceID)
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx = context.WithValue(ctx, logctx.KeyTraceID, traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
