package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-cart/internal/common"
)

// SessionCSRF protects the cookie-bound cart session with the double-submit
// technique: a mutating request that presents the session cookie must also
// echo its value in the session header, which a cross-site form cannot do.
type SessionCSRF struct {
	Cookie string
	Header string
}

// Middleware enforces the check on non-idempotent requests.
func (c SessionCSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(c.Cookie)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			// no ambient credential to ride on
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(c.Header))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_REJECTED", "missing session header", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF_REJECTED", "session header does not match cookie", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
