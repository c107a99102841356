package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with reservation-specific helpers
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stdout at LOG_LEVEL
func New() *Logger {
	return NewWithWriter(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// NewWithWriter creates a logger writing to w at the given level
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl := getLogLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	// Text for local development, JSON everywhere else
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// getLogLevel converts string to slog.Level
func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID adds request ID to logger context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("request_id", requestID))}
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.String("user_agent", c.Request.UserAgent()),
		slog.Int("size", c.Writer.Size()),
	)
}

// LogHTTPError logs an HTTP error
func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Reservation lifecycle logging methods

// LogHoldCreated logs a new ACTIVE hold
func (l *Logger) LogHoldCreated(ctx context.Context, holdID, eventID, kind string, seats int, expiresAt *time.Time) {
	args := []any{
		slog.String("hold_id", holdID),
		slog.String("event_id", eventID),
		slog.String("kind", kind),
		slog.Int("seats", seats),
	}
	if expiresAt != nil {
		args = append(args, slog.Time("expires_at", *expiresAt))
	}
	l.Logger.InfoContext(ctx, "Hold Created", args...)
}

// LogHoldConfirmed logs a hold reaching CONFIRMED
func (l *Logger) LogHoldConfirmed(ctx context.Context, holdID, eventID, externalRef string) {
	l.Logger.InfoContext(ctx,
		"Hold Confirmed",
		slog.String("hold_id", holdID),
		slog.String("event_id", eventID),
		slog.String("external_ref", externalRef),
	)
}

// LogHoldReleased logs a hold reaching RELEASED
func (l *Logger) LogHoldReleased(ctx context.Context, holdID, eventID, reason string) {
	l.Logger.InfoContext(ctx,
		"Hold Released",
		slog.String("hold_id", holdID),
		slog.String("event_id", eventID),
		slog.String("reason", reason),
	)
}

// LogSeatConflict logs a hold request that lost seats to another hold
func (l *Logger) LogSeatConflict(ctx context.Context, eventID string, seatIDs []string) {
	l.Logger.InfoContext(ctx,
		"Seat Conflict",
		slog.String("event_id", eventID),
		slog.Any("unavailable_seat_ids", seatIDs),
	)
}

// LogStoreRetry logs a retried store transaction
func (l *Logger) LogStoreRetry(ctx context.Context, op string, attempt int, err error) {
	l.Logger.WarnContext(ctx,
		"Store Retry",
		slog.String("operation", op),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogSweep logs a sweeper pass that did something
func (l *Logger) LogSweep(ctx context.Context, scanned, released, skipped, failed int, duration time.Duration) {
	l.Logger.InfoContext(ctx,
		"Sweep Completed",
		slog.Int("scanned", scanned),
		slog.Int("released", released),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
		slog.Duration("duration", duration),
	)
}

// Security logging methods

// LogAuthFailure logs failed authentication
func (l *Logger) LogAuthFailure(ctx context.Context, reason, ip string) {
	l.Logger.WarnContext(ctx,
		"Authentication Failure",
		slog.String("reason", reason),
		slog.String("ip", ip),
	)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]any) {
	args := make([]any, 0, len(fields)+1)
	args = append(args, slog.String("error", err.Error()))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

// Global logger instance (can be replaced with dependency injection)
var defaultLogger = New()

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger instance
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
