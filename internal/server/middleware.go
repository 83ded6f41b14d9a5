package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/core"
	"github.com/bantamhq/cutman/internal/store"
)

type contextKey string

const (
	tokenContextKey     contextKey = "token"
	principalContextKey contextKey = "principal"
)

// WWW-Authenticate challenges, one per surface.
const (
	apiChallenge = `Bearer realm="cutman"`
	gitChallenge = `Basic realm="cutman"`
	lfsChallenge = `Basic realm="Git LFS"`
)

// authError represents an authentication error with an associated HTTP status code.
type authError struct {
	message string
	status  int
}

func (e *authError) Error() string {
	return e.message
}

// writeAuthError writes an authentication error response, attaching the
// WWW-Authenticate challenge on 401s.
func writeAuthError(w http.ResponseWriter, err error, challenge string) {
	if authErr, ok := err.(*authError); ok {
		if authErr.status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", challenge)
		}
		http.Error(w, authErr.message, authErr.status)
		return
	}
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// extractRawToken pulls the raw token out of the Authorization header.
// Both `Bearer <token>` and `Basic base64("x-token:<token>")` are accepted;
// the latter is what Git's HTTP client sends. Returns empty with no error
// when the header is absent.
func extractRawToken(r *http.Request) (string, *authError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}

	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer "), nil
	}

	if strings.HasPrefix(header, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err != nil {
			return "", &authError{"Invalid authorization scheme", http.StatusUnauthorized}
		}
		username, password, found := strings.Cut(string(decoded), ":")
		if !found || username != "x-token" {
			return "", &authError{"Invalid authorization scheme", http.StatusUnauthorized}
		}
		return password, nil
	}

	return "", &authError{"Invalid authorization scheme", http.StatusUnauthorized}
}

// lookupToken parses the raw token, fetches the row by lookup segment, and
// verifies the secret against the stored hash.
func (s *Server) lookupToken(rawToken string) (*store.Token, *authError) {
	lookup, _, err := core.ParseToken(rawToken)
	if err != nil {
		return nil, &authError{"Invalid token format", http.StatusUnauthorized}
	}

	token, err := s.store.GetTokenByLookup(lookup)
	if err != nil {
		return nil, &authError{"Internal server error", http.StatusInternalServerError}
	}
	if token == nil {
		return nil, &authError{"Invalid token", http.StatusUnauthorized}
	}

	if err := core.VerifyToken(rawToken, token.TokenHash); err != nil {
		return nil, &authError{"Invalid token", http.StatusUnauthorized}
	}

	if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
		return nil, &authError{"Token expired", http.StatusUnauthorized}
	}

	return token, nil
}

// authenticate runs the full credential pipeline: extract, parse, look up,
// verify, check expiry, resolve the bound principal, and bump last_used.
// Returns (nil, nil, nil) when no credentials are present.
func (s *Server) authenticate(r *http.Request) (*store.Token, *store.Principal, *authError) {
	rawToken, authErr := extractRawToken(r)
	if authErr != nil {
		return nil, nil, authErr
	}
	if rawToken == "" {
		return nil, nil, nil
	}

	token, authErr := s.lookupToken(rawToken)
	if authErr != nil {
		return nil, nil, authErr
	}

	var principal *store.Principal
	if token.PrincipalID != nil {
		p, err := s.store.GetPrincipal(*token.PrincipalID)
		if err != nil {
			return nil, nil, &authError{"Internal server error", http.StatusInternalServerError}
		}
		if p == nil {
			return nil, nil, &authError{"Invalid token", http.StatusUnauthorized}
		}
		principal = p
	}

	// Bookkeeping only; auth never fails on it.
	if err := s.store.UpdateTokenLastUsed(token.ID); err != nil {
		s.logger.Warn("failed to update token last_used_at",
			zap.String("token_id", token.ID),
			zap.Error(err))
	}

	return token, principal, nil
}

// requireAuthMiddleware rejects requests that do not carry a valid token.
func (s *Server) requireAuthMiddleware(challenge string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, principal, authErr := s.authenticate(r)
			if authErr != nil {
				writeAuthError(w, authErr, challenge)
				return
			}
			if token == nil {
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), token, principal)))
		})
	}
}

// optionalAuthMiddleware authenticates when credentials are present and lets
// anonymous requests through untouched. Invalid credentials still fail.
func (s *Server) optionalAuthMiddleware(challenge string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, principal, authErr := s.authenticate(r)
			if authErr != nil {
				writeAuthError(w, authErr, challenge)
				return
			}
			if token != nil {
				r = r.WithContext(withAuth(r.Context(), token, principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withAuth(ctx context.Context, token *store.Token, principal *store.Principal) context.Context {
	ctx = context.WithValue(ctx, tokenContextKey, token)
	if principal != nil {
		ctx = context.WithValue(ctx, principalContextKey, principal)
	}
	return ctx
}

// GetTokenFromContext retrieves the authenticated token from the request context.
func GetTokenFromContext(ctx context.Context) *store.Token {
	token, _ := ctx.Value(tokenContextKey).(*store.Token)
	return token
}

// GetPrincipalFromContext retrieves the principal bound to the authenticated
// token, or nil for admin tokens and anonymous requests.
func GetPrincipalFromContext(ctx context.Context) *store.Principal {
	principal, _ := ctx.Value(principalContextKey).(*store.Principal)
	return principal
}
