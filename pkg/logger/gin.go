package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware tags each request with a request id, exposes a scoped logger to
// handlers through FromGin and the request context, and writes one access line.
// Provider webhooks retry on 5xx, so server errors log at error level.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		scoped := l.With("request_id", rid)
		c.Set(ginLoggerKey, scoped)
		c.Request = c.Request.WithContext(With(c.Request.Context(), scoped))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "err", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			scoped.Error("http request", attrs...)
		case status >= http.StatusBadRequest:
			scoped.Warn("http request", attrs...)
		default:
			scoped.Info("http request", attrs...)
		}
	}
}

// FromGin returns the request logger set by Middleware, or slog.Default.
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return From(c.Request.Context())
}
