package log

import "context"

// Logger defines the structured logging interface used at process wiring
// level. Components deeper in the tree log through zerolog's package-level
// logger directly; this interface exists so the server entrypoint and tests
// can substitute implementations.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	Fatal(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	With(fields map[string]interface{}) Logger
}
