// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

// IdentityKey is the context key for the authenticated identity.
const IdentityKey ContextKey = "identity"

// Claims represents JWT claims issued by the external auth collaborator.
// This service only consumes them; it never issues tokens.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     int    `json:"role"`
}

// Auth creates JWT authentication middleware. Requests without a valid
// identity never reach a handler.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"kind":"auth_required","message":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"kind":"auth_required","message":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid || claims.Subject == "" {
				http.Error(w, `{"kind":"auth_required","message":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ident := model.Identity{
				ID:       claims.Subject,
				Username: claims.Username,
				Role:     claims.Role,
			}
			ctx := context.WithValue(r.Context(), IdentityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the authenticated identity from context, or false when
// no identity is attached.
func GetIdentity(ctx context.Context) (model.Identity, bool) {
	if v := ctx.Value(IdentityKey); v != nil {
		ident, ok := v.(model.Identity)
		return ident, ok
	}
	return model.Identity{}, false
}
