package auth

import (
	"errors"
	"net/http"
	"strings"
)

// CodeTokenExpired is the machine-readable code clients watch for to
// decide between refreshing and re-authenticating.
const CodeTokenExpired = "TOKEN_EXPIRED"

// Guard validates bearer tokens on protected routes and attaches the
// verified identity to the request context.
type Guard struct {
	tokens  *TokenIssuer
	service *Service
}

func NewGuard(tokens *TokenIssuer, service *Service) *Guard {
	return &Guard{tokens: tokens, service: service}
}

func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := g.tokens.VerifyAccessToken(tokenStr)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				writeErrorCode(w, http.StatusUnauthorized, "access token expired", CodeTokenExpired)
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		// Claims are trusted for identity and role; storage is only
		// consulted to confirm the user still exists and is active.
		if _, err := g.service.ActiveUser(r.Context(), claims.Subject); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{ID: claims.Subject, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated callers whose role is not admin.
// It must run after Authenticate.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}
		if identity.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", false
	}

	return tokenStr, true
}
