// Package auth guards administrative endpoints with HS256 bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nicktill/tinytrack/pkg/httpx"
)

// ScopeExport grants access to GET /export.
const ScopeExport = "export"

var (
	// ErrInvalidToken is returned for any token that fails verification
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("authorization header required")

	// ErrForbidden is returned when a valid token lacks the required scope
	ErrForbidden = errors.New("token does not grant this scope")
)

// Claims carried by TinyTrack tokens.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Authenticator issues and verifies tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	issuer string
}

// New creates an Authenticator. The secret must be at least 32 bytes.
func New(secret []byte, issuer string) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Authenticator{secret: secret, issuer: issuer}, nil
}

// Issue signs a token for subject with the given scopes.
func (a *Authenticator) Issue(subject string, ttl time.Duration, scopes ...string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token string.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFrom returns the verified claims Require stored on the request context.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Require rejects requests without a valid bearer token carrying scope.
func (a *Authenticator) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, ErrMissingToken)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, errors.New("invalid authorization header format"))
				return
			}

			claims, err := a.Verify(token)
			if err != nil {
				unauthorized(w, ErrInvalidToken)
				return
			}
			if !slices.Contains(claims.Scopes, scope) {
				httpx.RespondError(w, http.StatusForbidden, httpx.CodeForbidden, ErrForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tinytrack"`)
	httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, err)
}
