package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opsdesk.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = map[string]bool{
	"/v1/auth/token": true,
	"/metrics":       true,
	"/healthz":       true,
	"/readyz":        true,
	"/":              true,
}

// withAuth verifies the bearer token and resolves the principal fresh from
// the account store, so role changes take effect on the next request rather
// than at token expiry.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.tokens == nil || a.identity == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		p, err := a.identity.Principal(r.Context(), claims.Subject)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrInvalidCredentials):
				writeError(w, r, http.StatusUnauthorized, "account unavailable")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := identity.ContextWithPrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
