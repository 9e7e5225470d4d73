package ports

import "context"

// Logger is the engine-wide logging interface. Adapters exist for the
// standard log package and for zap; LOG_FORMAT picks one at startup. The
// variadic field maps are merged in order, later maps winning on key clashes.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error message at Error level. err may be nil.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
