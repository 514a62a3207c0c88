package kit

import "context"

type contextKey string

const (
	TraceIDKey     contextKey = "kit_trace_id"
	ComponentIDKey contextKey = "kit_component_id"
	TransportKey   contextKey = "kit_transport" // "http", "mcp"
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithComponentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ComponentIDKey, id)
}
func GetComponentID(ctx context.Context) string {
	v, _ := ctx.Value(ComponentIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}
