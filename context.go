package authcore

import "context"

type clientContextKey struct{}

// clientInfo is what the transport knows about the caller. Sessions
// record it and audit events carry it.
type clientInfo struct {
	IP        string
	UserAgent string
}

// WithClientIP attaches the caller's IP address to ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	c := clientFromContext(ctx)
	c.IP = ip
	return context.WithValue(ctx, clientContextKey{}, c)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Sessions parse
// it into device metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	c := clientFromContext(ctx)
	c.UserAgent = userAgent
	return context.WithValue(ctx, clientContextKey{}, c)
}

func clientFromContext(ctx context.Context) clientInfo {
	if ctx == nil {
		return clientInfo{}
	}
	c, _ := ctx.Value(clientContextKey{}).(clientInfo)
	return c
}
