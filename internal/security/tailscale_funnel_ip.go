package security

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/netip"

	"tailscale.com/ipn"
)

type connKey struct{}

// ConnContext stores the accepted connection in the request context. Install
// it as http.Server.ConnContext so TailscaleFunnelIP can find the connection.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// funnelSource returns the public client address of a connection accepted
// through Tailscale Funnel. ok is false for any other connection.
func funnelSource(ctx context.Context) (src netip.AddrPort, ok bool) {
	c, _ := ctx.Value(connKey{}).(net.Conn)
	if c == nil {
		return netip.AddrPort{}, false
	}
	if tlsConn, isTLS := c.(*tls.Conn); isTLS {
		c = tlsConn.NetConn()
	}
	fc, isFunnel := c.(*ipn.FunnelConn)
	if !isFunnel {
		return netip.AddrPort{}, false
	}
	return fc.Src, fc.Src.IsValid()
}

// TailscaleFunnelIP rewrites r.RemoteAddr to the funnel client's address.
// Behind Funnel every connection otherwise appears to come from the local
// funnel endpoint, which defeats the allowlist, the rate limiter and the
// audit log's remote_addr.
//
// See <https://github.com/tailscale/tailscale/blob/8d7033f/cmd/tsidp/tsidp.go#L1040-L1059>
func TailscaleFunnelIP(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src, ok := funnelSource(r.Context()); ok {
				logger.Debug("using funnel client address", "from", r.RemoteAddr, "to", src.String())
				r.RemoteAddr = src.String()
			} else if r.Context().Value(connKey{}) == nil {
				logger.Warn("connection missing from request context; is ConnContext installed?",
					"remote_addr", r.RemoteAddr)
			}
			next.ServeHTTP(w, r)
		})
	}
}
