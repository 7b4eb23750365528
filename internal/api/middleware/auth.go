// Package middleware holds the HTTP middleware stack: bearer auth, per-IP
// rate limiting, CORS, request logging, and panic recovery.
package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
)

type authContextKey string

const accountIDKey authContextKey = "account_id"

// AdminAccountID is the well-known system account allowed to cross tenants.
const AdminAccountID = "00000000-0000-0000-0000-00000000b40d"

// AccountClaims holds the claims dialcast reads from bearer tokens. The acct
// claim carries the tenant the token is scoped to.
type AccountClaims struct {
	Account string `json:"acct"`
	jwt.RegisteredClaims
}

// RequireAuth returns middleware that validates RS256 bearer tokens and
// stores the acct claim in the request context.
func RequireAuth(publicKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeMiddlewareError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeMiddlewareError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			claims := &AccountClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return publicKey, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("invalid bearer token", "error", err)
				writeMiddlewareError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			if claims.Account == "" {
				writeMiddlewareError(w, http.StatusUnauthorized, "unauthorized", "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, claims.Account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant returns middleware that checks the authenticated account
// against the tenantId route parameter. A mismatch answers 404, not 403, so
// probing cannot distinguish foreign resources from missing ones. The admin
// account passes for any tenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountIDFromContext(r.Context())
		tenantID := chi.URLParam(r, "tenantId")
		if account != AdminAccountID && account != tenantID {
			writeMiddlewareError(w, http.StatusNotFound, "not_found", "resource not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccountIDFromContext returns the authenticated account id, or "".
func AccountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// errorEnvelope matches the api package's error envelope: error carries the
// machine-readable code, message the human-readable text.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeMiddlewareError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: code, Message: msg}) //nolint:errcheck
}
