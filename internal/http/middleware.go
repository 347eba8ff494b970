package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/logging"
)

const (
	// HeaderUserID идентификатор пользователя, проставляемый шлюзом аутентификации
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	ctxUserID = "user_id"
)

// RequireUser отклоняет запросы без идентификатора пользователя
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error:   KindUnauthorized,
				Message: "missing " + HeaderUserID + " header",
			})
			return
		}
		c.Set(ctxUserID, uid)
		c.Next()
	}
}

func userID(c *gin.Context) string { return c.GetString(ctxUserID) }

// requestLog одна запись лога и одно наблюдение метрик на запрос
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		s.metrics.ObserveRequest(handler, status, elapsed)

		level := slogLevel(status)
		s.log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"handler", handler,
			logging.KeyStatus, status,
			logging.KeyDurationMS, elapsed.Milliseconds(),
			logging.KeyUserID, strings.TrimSpace(c.GetHeader(HeaderUserID)),
		)
	}
}

func slogLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
