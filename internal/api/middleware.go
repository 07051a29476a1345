// Package api implements the agencydesk REST API using chi.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Auth modes.
const (
	AuthDisabled = "disabled"
	AuthToken    = "token"
	AuthJWT      = "jwt"
)

// AuthConfig selects how requests are authenticated.
type AuthConfig struct {
	Mode      string
	Token     string
	JWTSecret string
}

type ctxKey struct{}

// SubjectFrom returns the authenticated JWT subject, or "".
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

// bearer extracts the credential from the Authorization header. Browsers
// cannot set headers on EventSource and WebSocket requests, so the token
// query parameter is accepted as well.
func bearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware returns middleware enforcing cfg.
// In disabled mode all requests pass through. In token mode requests must carry
// the configured static token. In jwt mode they must carry an HS256 token signed
// with the configured secret and holding a sub claim.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch cfg.Mode {
			case AuthToken:
				if tok := bearer(r); tok == "" || tok != cfg.Token {
					writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
					return
				}
			case AuthJWT:
				sub, err := verifyJWT(bearer(r), cfg.JWTSecret)
				if err != nil {
					writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, sub))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyJWT(raw, secret string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("no token")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("missing sub claim")
	}
	return sub, nil
}
