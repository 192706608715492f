package middleware

import (
	"time"

	"proctorlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware adds tracing to HTTP requests. Relay routes carry the
// session id and device role so a session's frames can be followed across
// the socket, fallback and pairing surfaces.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		span.SetAttributes(
			attribute.String("http.scheme", c.Request.URL.Scheme),
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)

		if sessionID := requestSessionID(c); sessionID != "" {
			span.SetAttributes(tracing.SessionIDKey.String(sessionID))
		}
		if role := c.Query("role"); role != "" {
			span.SetAttributes(attribute.String("relay.role", role))
		}

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.response_size", int64(c.Writer.Size())),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)

		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// requestSessionID pulls the session id from wherever the relay routes carry
// it: the socket path parameter or the sessionId query of /status.
func requestSessionID(c *gin.Context) string {
	if id := c.Param("sessionID"); id != "" {
		return id
	}
	return c.Query("sessionId")
}
