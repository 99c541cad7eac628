package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"invoicedesk.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth verifies the bearer token on every non-public path. Without a
// signer the API runs unauthenticated, which only the tests rely on.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.signer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeUnauthenticated(w, r, err.Error())
			return
		}
		principal, err := a.signer.Parse(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeUnauthenticated(w, r, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// writeUnauthenticated answers callable paths in their {error, code} shape.
func writeUnauthenticated(w http.ResponseWriter, r *http.Request, msg string) {
	if strings.HasPrefix(r.URL.Path, "/v1/calls/") {
		writeCallableError(w, r, http.StatusUnauthorized, "unauthenticated", msg)
		return
	}
	writeError(w, r, http.StatusUnauthorized, msg)
}

func (a *API) requireRole(ctx context.Context, roles ...string) error {
	if a == nil || a.signer == nil {
		return nil
	}
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.ErrForbidden
	}
	return principal.Require(roles...)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
