package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Ключи полей, общие для всех сервисных логов
const (
	KeyService    = "service"
	KeyUserID     = "user_id"
	KeyOrderID    = "order_id"
	KeyStep       = "step"
	KeyStatus     = "status"
	KeyDurationMS = "duration_ms"
)

// New JSON-логгер с полем service в каждой записи
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(KeyService, service)
}

// ParseLevel разбирает LOG_LEVEL; пустая строка означает info
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard логгер для тестов
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
