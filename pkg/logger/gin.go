package logger

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// Middleware injects a request-scoped logger and logs one summary line per
// request. When the route carries a call or campaign ID the logger picks it
// up, so handler logs correlate with the adapter's call-lifecycle lines.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		if callID := c.Param("call_id"); callID != "" {
			reqLogger = reqLogger.With("call_id", callID)
		}
		if campaignID := c.Param("campaign_id"); campaignID != "" {
			reqLogger = reqLogger.With("campaign_id", campaignID)
		}
		c.Set("logger", reqLogger)

		c.Next()

		dur := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", float64(dur.Milliseconds()),
		}
		switch {
		case len(c.Errors) > 0:
			attrs = append(attrs, "errors", c.Errors.String())
			reqLogger.Error("request", attrs...)
		case quietPath(path):
			// Health checks and per-call media sockets would dominate the
			// stream at info.
			reqLogger.Debug("request", attrs...)
		default:
			reqLogger.Info("request", attrs...)
		}
	}
}

func quietPath(path string) bool {
	return path == "/healthz" || strings.HasPrefix(path, "/media/")
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
