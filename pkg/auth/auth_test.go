package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/httpx"
)

var testSecret = []byte(strings.Repeat("k", 32))

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(testSecret, "tinytrack")
	require.NoError(t, err)
	return a
}

func TestNew_ShortSecret(t *testing.T) {
	_, err := New([]byte("short"), "tinytrack")
	require.Error(t, err)
}

func TestIssueVerify(t *testing.T) {
	a := newAuth(t)
	token, err := a.Issue("ops", time.Hour, ScopeExport)
	require.NoError(t, err)

	claims, err := a.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Equal(t, []string{ScopeExport}, claims.Scopes)
}

func TestVerify_Rejects(t *testing.T) {
	a := newAuth(t)

	expired, err := a.Issue("ops", -time.Minute, ScopeExport)
	require.NoError(t, err)

	other, err := New([]byte(strings.Repeat("z", 32)), "tinytrack")
	require.NoError(t, err)
	wrongKey, err := other.Issue("ops", time.Hour, ScopeExport)
	require.NoError(t, err)

	otherIssuer, err := New(testSecret, "someone-else")
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.Issue("ops", time.Hour, ScopeExport)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tinytrack",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "tinytrack"},
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not.a.token",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
		"no expiry":    noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRequire(t *testing.T) {
	a := newAuth(t)
	good, err := a.Issue("ops", time.Hour, ScopeExport)
	require.NoError(t, err)
	noScope, err := a.Issue("viewer", time.Hour)
	require.NoError(t, err)

	var gotSubject string
	h := a.Require(ScopeExport)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		gotSubject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		header   string
		want     int
		wantCode string
	}{
		{"missing", "", http.StatusUnauthorized, httpx.CodeUnauthorized},
		{"not bearer", "Basic b3BzOm9wcw==", http.StatusUnauthorized, httpx.CodeUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized, httpx.CodeUnauthorized},
		{"missing scope", "Bearer " + noScope, http.StatusForbidden, httpx.CodeForbidden},
		{"ok", "Bearer " + good, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/export", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusUnauthorized {
				require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
			}
			if tt.wantCode != "" {
				var resp httpx.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				require.Equal(t, tt.wantCode, resp.Code)
			}
		})
	}
	require.Equal(t, "ops", gotSubject)
}
