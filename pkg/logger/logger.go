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

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stdout at the given level
func New(level string) *Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl := getLogLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	// Text handler for development, JSON for everything else
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops everything. Used by tests.
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

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", name)),
	}
}

// WithRequestID adds request ID to logger context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("request_id", requestID)),
	}
}

// WithError adds error to logger context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("error", err.Error())),
	}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	attrs := []any{
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.Int("size", c.Writer.Size()),
	}
	if userID := c.GetString("user_id"); userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}

	switch status := c.Writer.Status(); {
	case status >= 500:
		l.Logger.ErrorContext(c.Request.Context(), "HTTP Request", attrs...)
	case status >= 400:
		l.Logger.WarnContext(c.Request.Context(), "HTTP Request", attrs...)
	default:
		l.Logger.InfoContext(c.Request.Context(), "HTTP Request", attrs...)
	}
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

// Hold and reservation logging methods

func (l *Logger) LogHoldAcquired(ctx context.Context, seatID, reservationID string, expiresAt time.Time) {
	l.Logger.InfoContext(ctx,
		"Hold Acquired",
		slog.String("seat_id", seatID),
		slog.String("reservation_id", reservationID),
		slog.Time("expires_at", expiresAt),
	)
}

func (l *Logger) LogHoldConflict(ctx context.Context, seatID, reservationID, state string) {
	l.Logger.InfoContext(ctx,
		"Hold Conflict",
		slog.String("seat_id", seatID),
		slog.String("reservation_id", reservationID),
		slog.String("observed_state", state),
	)
}

func (l *Logger) LogReservationConfirmed(ctx context.Context, reservationID, eventID, ownerID string, seats int) {
	l.Logger.InfoContext(ctx,
		"Reservation Confirmed",
		slog.String("reservation_id", reservationID),
		slog.String("event_id", eventID),
		slog.String("owner_id", ownerID),
		slog.Int("seats", seats),
	)
}

func (l *Logger) LogReservationCancelled(ctx context.Context, reservationID, eventID, reason string) {
	l.Logger.InfoContext(ctx,
		"Reservation Cancelled",
		slog.String("reservation_id", reservationID),
		slog.String("event_id", eventID),
		slog.String("reason", reason),
	)
}

func (l *Logger) LogReservationExpired(ctx context.Context, reservationID, eventID string) {
	l.Logger.InfoContext(ctx,
		"Reservation Expired",
		slog.String("reservation_id", reservationID),
		slog.String("event_id", eventID),
	)
}

// LogSweep logs one sweeper cycle
func (l *Logger) LogSweep(ctx context.Context, released, expired int, duration time.Duration) {
	l.Logger.InfoContext(ctx,
		"Expired Holds Swept",
		slog.Int("seats_released", released),
		slog.Int("reservations_expired", expired),
		slog.Duration("duration", duration),
	)
}

// LogPublishFailure logs a notification that could not be delivered to a sink
func (l *Logger) LogPublishFailure(ctx context.Context, sink, eventType string, err error) {
	l.Logger.WarnContext(ctx,
		"Notification Delivery Failed",
		slog.String("sink", sink),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogInvariantViolation logs an internal inconsistency; the operation fails but the process keeps running
func (l *Logger) LogInvariantViolation(ctx context.Context, err error, fields map[string]interface{}) {
	l.ErrorWithContext(ctx, "Invariant Violation", err, fields)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// Helper methods for common patterns

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Logger.InfoContext(ctx, msg, fieldArgs(fields)...)
}

// WarnWithContext logs a warning with context
func (l *Logger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Logger.WarnContext(ctx, msg, fieldArgs(fields)...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, slog.String("error", err.Error()))
	args = append(args, fieldArgs(fields)...)
	l.Logger.ErrorContext(ctx, msg, args...)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Logger.DebugContext(ctx, msg, fieldArgs(fields)...)
}

func fieldArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return args
}

var defaultLogger = New(os.Getenv("LOG_LEVEL"))

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger instance
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
