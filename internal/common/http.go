package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address without its port. Proxy headers are
// resolved into RemoteAddr by chi's RealIP middleware before this runs.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
