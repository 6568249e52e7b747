package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"

	ginLoggerKey = "logger"
	ginAttrsKey  = "log_attrs"
)

// Middleware assigns a request id and writes one access line per request.
// Handlers enrich that line through Annotate. Quiet paths (health checks, scrapes)
// are logged at debug.
func Middleware(l *slog.Logger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		attrs = append(attrs, annotations(c)...)

		switch {
		case len(c.Errors) > 0:
			attrs = append(attrs, "errors", c.Errors.String())
			reqLogger.Error("request", attrs...)
		case status >= 500:
			reqLogger.Error("request", attrs...)
		case isQuiet(quiet, path):
			reqLogger.Debug("request", attrs...)
		default:
			reqLogger.Info("request", attrs...)
		}
	}
}

// Annotate attaches key/value pairs to the request's access line and to the
// logger returned by FromGin from here on.
func Annotate(c *gin.Context, kv ...any) {
	if len(kv) == 0 {
		return
	}
	attrs := append(annotations(c), kv...)
	c.Set(ginAttrsKey, attrs)
	l := FromGin(c).With(kv...)
	c.Set(ginLoggerKey, l)
	c.Request = c.Request.WithContext(With(c.Request.Context(), l))
}

// AnnotateContact records the masked contact on the access line.
func AnnotateContact(c *gin.Context, contact string) {
	if contact == "" {
		return
	}
	Annotate(c, "contact", MaskContact(contact))
}

func annotations(c *gin.Context) []any {
	if v, ok := c.Get(ginAttrsKey); ok {
		if attrs, ok := v.([]any); ok {
			return attrs[:len(attrs):len(attrs)]
		}
	}
	return nil
}

func isQuiet(quiet map[string]struct{}, path string) bool {
	_, ok := quiet[path]
	return ok
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
