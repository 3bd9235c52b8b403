package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-long-enough"

func TestVerifier_SignAndValidate(t *testing.T) {
	v := NewVerifier(testSecret, "ledger")

	token, err := v.Sign("reporting", []string{"42"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "reporting", claims.Subject)
	assert.Equal(t, []string{"42"}, claims.GatewayAccountIDs)
	assert.True(t, claims.Restricted())
	assert.True(t, claims.AllowsAccount("42"))
	assert.False(t, claims.AllowsAccount("7"))
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier(testSecret, "ledger")

	expired, err := v.Sign("svc", nil, -time.Minute)
	require.NoError(t, err)
	otherSecret, err := NewVerifier("another-secret-key-long-enough", "ledger").Sign("svc", nil, time.Minute)
	require.NoError(t, err)
	otherIssuer, err := NewVerifier(testSecret, "someone-else").Sign("svc", nil, time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"alg none":     none,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestClaims_Unrestricted(t *testing.T) {
	c := &Claims{}
	assert.False(t, c.Restricted())
	assert.True(t, c.AllowsAccount("anything"))
}

func TestRequireAuth(t *testing.T) {
	v := NewVerifier(testSecret, "")
	valid, err := v.Sign("svc", []string{"1"}, time.Minute)
	require.NoError(t, err)

	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/v1/api/payout/P1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireAuth(v)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, []string{"1"}, seen.GatewayAccountIDs)
			} else {
				assert.Contains(t, rec.Header().Get("Content-Type"), "json")
			}
		})
	}
}

func TestRequireAuth_Disabled(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := ClaimsFromContext(r.Context())
		assert.False(t, ok)
	})

	rec := httptest.NewRecorder()
	RequireAuth(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
