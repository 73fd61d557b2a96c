// Package auth verifies bearer tokens and resolves the request principal.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/attune-voice/attune/pkg/core"
)

// Principal is the authenticated caller.
type Principal struct {
	OwnerID string
}

type principalKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored on the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Verifier validates HS256 bearer tokens issued by the identity provider.
// The subject claim carries the owner ID.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// FromRequest resolves the principal from the Authorization header, or from
// the access_token query parameter for WebSocket clients that cannot set
// headers.
func (v *Verifier) FromRequest(r *http.Request) (Principal, error) {
	token := bearerToken(r)
	if token == "" {
		return Principal{}, core.NewUnauthorizedError("missing bearer token")
	}
	return v.Verify(token)
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (Principal, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, core.NewUnauthorizedError("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Principal{}, core.NewUnauthorizedError("invalid token")
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, core.NewUnauthorizedError("token missing subject")
	}
	return Principal{OwnerID: sub}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
