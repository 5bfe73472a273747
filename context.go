package trustcore

import (
	"context"

	"github.com/MrEthical07/trustcore/store"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// sessions and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the caller's User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func originFromContext(ctx context.Context) store.Origin {
	if ctx == nil {
		return store.Origin{}
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return store.Origin{IP: ip, UserAgent: ua}
}
