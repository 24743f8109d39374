package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"presence-service/internal/session"

	"github.com/golang-jwt/jwt/v4"
)

// unexported, collision-proof context key
type userIDContextKeyType struct{}

var userIDKey = userIDContextKeyType{}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

type AuthMiddleware struct {
	Store     session.Store
	JWTSecret []byte
}

func NewAuthMiddleware(store session.Store, jwtSecret []byte) *AuthMiddleware {
	return &AuthMiddleware{Store: store, JWTSecret: jwtSecret}
}

// RequireAuth authenticates the request either by the CMS session cookie
// or by a short-lived presence token the CMS issues for websocket clients
// that cannot send the __Host- cookie cross-origin.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.fromCookie(r)
		if !ok {
			userID, ok = a.fromToken(r)
		}
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthMiddleware) fromCookie(r *http.Request) (string, bool) {
	if a.Store == nil {
		return "", false
	}

	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	sess, err := a.Store.Get(r.Context(), cookie.Value)
	if err != nil || sess == nil {
		return "", false
	}

	// Enforce expiry even if Redis has not evicted the key yet.
	if time.Now().After(sess.ExpiresAt) {
		_ = a.Store.Delete(r.Context(), cookie.Value)
		return "", false
	}

	return sess.UserID, true
}

func (a *AuthMiddleware) fromToken(r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if raw == "" || len(a.JWTSecret) == 0 {
		return "", false
	}

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.JWTSecret, nil
	})
	if err != nil || !tok.Valid || claims.Subject == "" {
		return "", false
	}

	return claims.Subject, true
}
