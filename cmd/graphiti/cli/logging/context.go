package logging

import "context"

// Context keys for logging values. Private types avoid collisions.
type contextKey int

const (
	componentKey contextKey = iota
	sessionKey
)

// WithComponent adds a component name to the context. Component names
// identify the subsystem generating logs (e.g. "capture", "worker",
// "indexer", "mcp").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithSession adds a conversation session ID to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ComponentFromContext extracts the component name, or "".
func ComponentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(componentKey).(string); ok {
		return v
	}
	return ""
}

// SessionFromContext extracts the session ID, or "".
func SessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}
