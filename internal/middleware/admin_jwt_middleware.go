package middleware

import (
	"context"
	"net/http"
	"strings"

	"x402_gateway/internal/auth"
	"x402_gateway/internal/config"
	"x402_gateway/internal/utils"
)

// ContextKey is the type for request context keys set by middleware.
type ContextKey string

// AdminClaimsKey carries the validated admin claims.
const AdminClaimsKey ContextKey = "adminClaims"

// AdminJWT validates the admin bearer token on protected operator routes.
func AdminJWT(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := auth.ValidateAdminJWT(tokenString, cfg)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AdminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
