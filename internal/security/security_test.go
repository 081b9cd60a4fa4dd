package security

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/common"
)

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestHeadersMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true}.Middleware(statusHandler(http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "https://shop.example/v1/cart", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "max-age=600; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://shop.example/v1/cart", nil))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	handler := Headers{EnableHSTS: true}.Middleware(statusHandler(http.StatusOK))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://shop.example", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}

func TestCORSExposesSessionHeader(t *testing.T) {
	handler := CORS("https://shop.example, https://admin.shop.example", "X-Cart-Session")(statusHandler(http.StatusOK))

	preflight := httptest.NewRequest(http.MethodOptions, "http://api.shop.example/v1/cart/items", nil)
	preflight.Header.Set("Origin", "https://shop.example")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight.Header.Set("Access-Control-Request-Headers", "X-Cart-Session")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, preflight)
	require.Equal(t, "https://shop.example", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req := httptest.NewRequest(http.MethodGet, "http://api.shop.example/v1/cart", nil)
	req.Header.Set("Origin", "https://shop.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "X-Cart-Session")

	req = httptest.NewRequest(http.MethodGet, "http://api.shop.example/v1/cart", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionCSRF(t *testing.T) {
	handler := SessionCSRF{Cookie: "toko_cart", Header: "X-Cart-Session"}.Middleware(statusHandler(http.StatusAccepted))
	send := func(method string, cookie, header, auth string) int {
		req := httptest.NewRequest(method, "/v1/cart/items", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: "toko_cart", Value: cookie})
		}
		if header != "" {
			req.Header.Set("X-Cart-Session", header)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusAccepted, send(http.MethodGet, "tok", "", ""))
	require.Equal(t, http.StatusAccepted, send(http.MethodPost, "", "", ""))
	require.Equal(t, http.StatusAccepted, send(http.MethodPost, "", "tok", ""))
	require.Equal(t, http.StatusAccepted, send(http.MethodPost, "tok", "tok", ""))
	require.Equal(t, http.StatusAccepted, send(http.MethodPost, "tok", "", "Bearer abc.def"))
	require.Equal(t, http.StatusForbidden, send(http.MethodPost, "tok", "", ""))
	require.Equal(t, http.StatusForbidden, send(http.MethodDelete, "tok", "other", ""))
}

func TestBodyLimit(t *testing.T) {
	var captured string
	handler := BodyLimit{Max: 10}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "hello", captured)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader("far too large a payload")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader("tiny"))
	req.ContentLength = 100
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestBodyLimitCutsUnsizedBodies(t *testing.T) {
	handler := BodyLimit{Max: 8}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := common.DecodeJSON(r, &body); err != nil {
			common.WriteBadRequest(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/cart/items", io.NopCloser(strings.NewReader(`{"productId":"milk-1l"}`)))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
