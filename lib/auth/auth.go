// Package auth issues and verifies the HS256 bearer tokens of the market API. A token carries the caller address
// and role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

const issuer = "nftmarket"

// Errors returned
var (
	ErrNoSecret     = errors.New("jwt secret is not configured")
	ErrNoToken      = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims identify the caller.
type Claims struct {
	Address string         `json:"address"`
	Role    store.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// Auth signs and verifies tokens with a shared secret.
type Auth struct {
	secret []byte
	now    func() time.Time
}

// New returns an Auth with secret.
func New(secret string) (*Auth, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	return &Auth{secret: []byte(secret), now: time.Now}, nil
}

// Sign returns a token for address and role valid for ttl.
func (a *Auth) Sign(address string, role store.UserRole, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Address: util.FormatAddress(address),
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   util.FormatAddress(address),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses token and returns its claims.
func (a *Auth) Verify(token string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !parsed.Valid || claims.Address == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Middleware verifies the bearer token and stores the claims in the request context. Requests without a valid
// token are answered with 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.FromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// FromRequest verifies the bearer token of r.
func (a *Auth) FromRequest(r *http.Request) (*Claims, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, ErrNoToken
	}

	return a.Verify(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
}

// WithClaims returns a context carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)

	return c, ok
}
