// Package log is the structured logger handed to the HTTP layer and the server
// lifecycle. Every entry carries the active trace and span ids.
package log

import "context"

// Fields are structured key/value pairs attached to one entry.
type Fields = map[string]interface{}

// Logger is implemented by the zerolog adapter.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	// Fatal exits the process after writing the entry.
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)
	With(fields Fields) Logger
}
