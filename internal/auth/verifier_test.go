package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/common"
)

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Secret:    "test-secret",
		Issuer:    "issuer",
		Audience:  "aud",
		ClockSkew: time.Second,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return v
}

func TestTokenValidatorValidateSuccess(t *testing.T) {
	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer("issuer").
		Audience([]string{"aud"}).
		Subject("sub").
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)

	validator := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256}
	require.NoError(t, validator.Validate(token, jwa.HS256, now))
}

func TestTokenValidatorRejects(t *testing.T) {
	now := time.Now()
	build := func(issuer, subject string, nbf, exp time.Time) jwt.Token {
		tok, err := jwt.NewBuilder().
			Issuer(issuer).
			Audience([]string{"aud"}).
			Subject(subject).
			IssuedAt(now).
			NotBefore(nbf).
			Expiration(exp).
			Build()
		require.NoError(t, err)
		return tok
	}
	validator := TokenValidator{Issuer: "issuer", Audience: "aud", Algorithm: jwa.HS256, ClockSkew: time.Second}

	cases := map[string]struct {
		tok jwt.Token
		alg jwa.SignatureAlgorithm
	}{
		"issuer mismatch": {build("other", "sub", now, now.Add(time.Minute)), jwa.HS256},
		"expired":         {build("issuer", "sub", now.Add(-2*time.Hour), now.Add(-time.Minute)), jwa.HS256},
		"not yet valid":   {build("issuer", "sub", now.Add(5*time.Minute), now.Add(10*time.Minute)), jwa.HS256},
		"algorithm":       {build("issuer", "sub", now, now.Add(time.Minute)), jwa.RS256},
		"missing subject": {build("issuer", "", now, now.Add(time.Minute)), jwa.HS256},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, validator.Validate(tc.tok, tc.alg, now))
		})
	}
	require.Error(t, validator.Validate(nil, jwa.HS256, now))
}

func TestVerifierRoundTrip(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, now)

	token, err := v.Sign(common.Principal{ID: "user-1", Email: "asha@example.com", Role: common.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", p.ID)
	require.Equal(t, "asha@example.com", p.Email)
	require.True(t, p.IsAdmin())
}

func TestVerifierRejectsForeignTokens(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, now)

	other, err := NewVerifier(VerifierConfig{Secret: "other-secret", Issuer: "issuer", Audience: "aud", Now: func() time.Time { return now }})
	require.NoError(t, err)
	forged, err := other.Sign(common.Principal{ID: "user-1"}, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":   "",
		"garbage": "not-a-jwt",
		"forged":  forged,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
			appErr, ok := common.AsAppError(err)
			require.True(t, ok)
			require.Equal(t, "UNAUTHORIZED", appErr.Code)
		})
	}

	expired := newTestVerifier(t, now.Add(-2*time.Hour))
	old, err := expired.Sign(common.Principal{ID: "user-1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(old)
	require.Error(t, err)

	_, err = NewVerifier(VerifierConfig{})
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, now)
	m := Middleware{Verifier: v, AccessCookie: "access_token"}

	userToken, err := v.Sign(common.Principal{ID: "user-1"}, time.Hour)
	require.NoError(t, err)
	adminToken, err := v.Sign(common.Principal{ID: "admin-1", Role: common.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := common.PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(p.ID))
	})
	call := func(h http.Handler, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("authenticate is optional", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, call(m.Authenticate(echo), "").Code)
		require.Equal(t, http.StatusNoContent, call(m.Authenticate(echo), "bogus").Code)
		rec := call(m.Authenticate(echo), userToken)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-1", rec.Body.String())
	})

	t.Run("cookie token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: userToken})
		rec := httptest.NewRecorder()
		m.RequireAuth(echo).ServeHTTP(rec, req)
		require.Equal(t, "user-1", rec.Body.String())
	})

	t.Run("require auth", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, call(m.RequireAuth(echo), "").Code)
		require.Equal(t, http.StatusUnauthorized, call(m.RequireAuth(echo), "bogus").Code)
		require.Equal(t, http.StatusOK, call(m.RequireAuth(echo), userToken).Code)
	})

	t.Run("require admin", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, call(m.RequireAdmin(echo), "").Code)
		require.Equal(t, http.StatusForbidden, call(m.RequireAdmin(echo), userToken).Code)
		rec := call(m.RequireAdmin(echo), adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "admin-1", rec.Body.String())
	})
}
