package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityKey is the request-context key the middleware stores the caller
// identity under. Handlers read it once and pass the identity explicitly
// into the services; nothing below the handler layer touches the context
// value.
const IdentityKey = "identity"

// Middleware validates the bearer token and resolves the caller principal.
// Token issuance lives outside this service; only the shared HMAC secret is
// configured here.
func Middleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			identity, ok := claims["identity"].(string)
			if !ok || identity == "" {
				http.Error(w, "identity claim missing", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerIdentity extracts the identity the middleware resolved, or "" when
// the request skipped authentication.
func CallerIdentity(ctx context.Context) string {
	identity, _ := ctx.Value(IdentityKey).(string)
	return identity
}
