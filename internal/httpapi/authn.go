package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"benchguard.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token to the current stored actor. Browsers
// cannot set headers on EventSource or WebSocket requests, so those may pass
// the token as access_token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil && r.Method == http.MethodGet {
			if qt := strings.TrimSpace(r.URL.Query().Get("access_token")); qt != "" {
				token, err = qt, nil
			}
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="benchguard"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		actor, err := a.svc.Directory.ActorForToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="benchguard", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actor)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize runs the guard for the calling actor and writes 403 on denial.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, req auth.Requirement) (*auth.Actor, bool) {
	actor, _ := auth.ActorFromContext(r.Context())
	if err := a.svc.Guard.Authorize(r.Context(), actor, req); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return nil, false
	}
	return actor, true
}

// authorizeSelfOr lets actors read their own resources without a grant.
func (a *API) authorizeSelfOr(w http.ResponseWriter, r *http.Request, id string, req auth.Requirement) (*auth.Actor, bool) {
	if actor, ok := auth.ActorFromContext(r.Context()); ok && actor.ID == id {
		return actor, true
	}
	return a.authorize(w, r, req)
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
