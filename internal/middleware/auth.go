package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/barberhub/totem-api/internal/auth"
)

type contextKey string

const (
	claimsKey       contextKey = "claims"
	bridgeClaimsKey contextKey = "bridge_claims"
)

// BridgeTokenHeader carries the bridge's signed token on result callbacks.
const BridgeTokenHeader = "X-Bridge-Token"

func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}

// RequireBridgeToken admits only requests signed by the TEF bridge.
func RequireBridgeToken(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get(BridgeTokenHeader)
			if tokenStr == "" {
				writeError(w, http.StatusUnauthorized, "missing bridge token")
				return
			}

			claims, err := auth.ValidateBridgeToken(secret, tokenStr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid bridge token")
				return
			}

			ctx := context.WithValue(r.Context(), bridgeClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func BridgeClaimsFromContext(ctx context.Context) *auth.BridgeClaims {
	claims, _ := ctx.Value(bridgeClaimsKey).(*auth.BridgeClaims)
	return claims
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": msg})
}
