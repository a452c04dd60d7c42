package httpapi

import (
	"errors"
	"net/http"
	"time"

	"benchguard.io/internal/auth"
)

type tokenRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Actor     *auth.Actor `json:"actor"`
}

// handleAuthToken exchanges credentials for a bearer token. Every attempt,
// successful or not, lands in the activity log.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, expiresAt, actor, err := a.svc.Directory.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Actor:     actor,
	})
}

type meResponse struct {
	Actor  *auth.Actor `json:"actor"`
	Matrix auth.Matrix `json:"matrix,omitempty"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	resp := meResponse{Actor: actor}
	if actor.Role.StaffTier() {
		m, err := a.svc.Matrix.Matrix(r.Context(), actor.ID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		resp.Matrix = m
	}
	writeJSON(w, http.StatusOK, resp)
}
