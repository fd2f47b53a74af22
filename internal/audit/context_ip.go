package audit

import "context"

type clientIPKey struct{}

// WithClientIP attaches the resolved client IP so audit records can capture it
// without services depending on the HTTP layer.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	s, _ := ctx.Value(clientIPKey{}).(string)
	return s
}
