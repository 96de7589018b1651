package llm

import "context"

type operationKey struct{}

// WithOperation tags a request context with the planning step issuing it
// ("clarify", "compose", "revise"). Middleware uses it for labels.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFrom returns the tag set by WithOperation, or "unknown".
func OperationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return "unknown"
}
