package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// SignalContext creates a logger context for signal generation
func SignalContext(symbol, direction string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"direction":  direction,
		"confidence": confidence,
	}).WithComponent("signal")
}

// TradeContext creates a logger context for trade lifecycle operations
func TradeContext(tradeID, symbol, direction string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"trade_id":  tradeID,
		"symbol":    symbol,
		"direction": direction,
	}).WithComponent("trade")
}

// LearningContext creates a logger context for learning cycles
func LearningContext(cycleID string, tradeCount int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"cycle_id":    cycleID,
		"trade_count": tradeCount,
	}).WithComponent("learning")
}

// WatchdogContext creates a logger context for watchdog checks
func WatchdogContext(check string) *Logger {
	return Default().WithField("check", check).WithComponent("watchdog")
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}
