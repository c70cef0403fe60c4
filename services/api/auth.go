package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ctxKey int

const ownerKey ctxKey = iota

// OwnerFromContext returns the authenticated owner set by RequireAuth.
func OwnerFromContext(ctx context.Context) (uuid.UUID, bool) {
	owner, ok := ctx.Value(ownerKey).(uuid.UUID)
	return owner, ok
}

// RequireAuth verifies the Bearer token issued by the identity service
// (HS256, owner ID in the subject claim) and stores the owner on the
// request context. The public distribution path never passes through here.
func RequireAuth(signingKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found || raw == "" {
				respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing bearer token"})
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token"})
				return
			}

			owner, err := uuid.Parse(claims.Subject)
			if err != nil {
				respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token subject"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
		})
	}
}
