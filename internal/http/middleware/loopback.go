package middleware

import (
	"log/slog"
	"net"
	"net/http"
)

// LoopbackOnly restricts an endpoint to requests arriving over the loopback
// interface. The check reads the socket peer address, never forwarded
// headers, so it cannot be spoofed by clients on other hosts. Segment
// read-back exists solely for the uploader child on the same machine.
func LoopbackOnly(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isLoopbackAddr(r.RemoteAddr) {
				logger.WarnContext(r.Context(), "rejected non-loopback segment request",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isLoopbackAddr reports whether a host:port peer address is 127.0.0.1 or
// ::1. IPv4-mapped forms like ::ffff:127.0.0.1 compare equal.
func isLoopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		// No port: some test servers hand over a bare IP.
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.Equal(net.IPv4(127, 0, 0, 1)) || ip.Equal(net.IPv6loopback)
}
