package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Context keys for the verified identity attached by the middleware.
const (
	UserIDKey = "user_id"
	OrgIDKey  = "org_id"
)

// JWTMiddleware validates the Authorization header and attaches the
// verified (user_id, org_id) pair to the request context. Every downstream
// read and write is scoped by that pair; a token without both claims is
// rejected.
func JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, "missing or invalid token", http.StatusUnauthorized)
			return
		}

		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(os.Getenv("JWT_SECRET")), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		userID, ok := claims[UserIDKey].(string)
		if !ok || userID == "" {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		orgID, ok := claims[OrgIDKey].(string)
		if !ok || orgID == "" {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, OrgIDKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity extracts the verified pair from a request context.
func Identity(ctx context.Context) (userID, orgID string, ok bool) {
	userID, uok := ctx.Value(UserIDKey).(string)
	orgID, ook := ctx.Value(OrgIDKey).(string)
	return userID, orgID, uok && ook
}
