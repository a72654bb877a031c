package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow the
// claims stored in a request context.
type contextKey string

const claimsKey contextKey = "claims"

// RequireAuth rejects requests without a valid "Authorization: Bearer"
// token with 401 and a FastAPI-style {"detail": ...} body, and otherwise
// stores the token's claims in the request context.
//
// Validation needs only the secret: no session table is consulted. That
// is why logout and RevokeSessions need a separate revocation check in
// front of the API routes.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromRequest(r, tokens)
			if err != nil {
				// The messages are fixed strings, safe to inline into JSON.
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"` + err.Error() + `"}`))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims RequireAuth stored, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func claimsFromRequest(r *http.Request, tokens *TokenService) (*Claims, error) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, errors.New("Missing or invalid Authorization header")
	}
	c, err := tokens.Validate(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, errors.New("Token has expired")
		}
		return nil, errors.New("Token verification failed")
	}
	return c, nil
}
