package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// 1. Define Context Keys (Exported so other packages can read them)
type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// 2. Define what we need from the User Service
// This interface decouples 'middleware' from 'user'
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

// UserChecker confirms the user behind a valid token still exists.
type UserChecker interface {
	ExistsUser(ctx context.Context, username string) (bool, error)
}

// 3. The Middleware Structure
type AuthMiddleware struct {
	validator TokenValidator
	users     UserChecker
}

// NewAuthMiddleware validates tokens with v. When users is not nil, a token
// whose user no longer exists is rejected as well.
func NewAuthMiddleware(v TokenValidator, users UserChecker) *AuthMiddleware {
	return &AuthMiddleware{validator: v, users: users}
}

// TokenFromRequest reads a bearer token from the Authorization header,
// falling back to the "token" query parameter (browsers cannot set headers
// on a websocket handshake).
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// 4. The actual Handler
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if am.users != nil {
			exists, err := am.users.ExistsUser(r.Context(), username)
			if err != nil {
				http.Error(w, "Failed to verify user", http.StatusInternalServerError)
				return
			}
			if !exists {
				http.Error(w, "Unknown user", http.StatusUnauthorized)
				return
			}
		}

		// Inject into Context
		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
