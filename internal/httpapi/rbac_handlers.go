package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
)

var (
	readStaff   = auth.Requirement{Capability: auth.CapManageStaff, Access: auth.AccessRead}
	manageStaff = auth.Requirement{Capability: auth.CapManageStaff, Access: auth.AccessWrite}
	readSystem  = auth.Requirement{Capability: auth.CapManageSystem, Access: auth.AccessRead}
	writeSystem = auth.Requirement{Capability: auth.CapManageSystem, Access: auth.AccessWrite}
)

type createActorRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled"`
}

type grantRequest struct {
	Access string `json:"access" validate:"required"`
	Value  *bool  `json:"value" validate:"required"`
}

type flagRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type permissionsResponse struct {
	ActorID string      `json:"actor_id"`
	Role    auth.Role   `json:"role"`
	Matrix  auth.Matrix `json:"matrix"`
	// Implicit is true for owners and super admins, who hold every grant
	// without consulting the matrix.
	Implicit bool `json:"implicit"`
}

func (a *API) handleListActors(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, readStaff); !ok {
		return
	}
	actors, err := a.svc.Directory.List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": actors})
}

func (a *API) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	by, ok := a.authorize(w, r, manageStaff)
	if !ok {
		return
	}
	var req createActorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusUnprocessableEntity, fmt.Sprintf("unknown role %q", req.Role))
		return
	}
	actor, err := a.svc.Directory.Register(r.Context(), by, auth.NewActor{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/actors/"+actor.ID)
	writeJSON(w, http.StatusCreated, actor)
}

func (a *API) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actorID")
	if _, ok := a.authorizeSelfOr(w, r, id, readStaff); !ok {
		return
	}
	actor, err := a.svc.Directory.Actor(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) handleActorStatus(w http.ResponseWriter, r *http.Request) {
	by, ok := a.authorize(w, r, manageStaff)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, _ := auth.ParseStatus(req.Status)
	actor, err := a.svc.Directory.SetStatus(r.Context(), by, chi.URLParam(r, "actorID"), status)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	by, ok := a.authorize(w, r, manageStaff)
	if !ok {
		return
	}
	actor, err := a.svc.Directory.ForceLogout(r.Context(), by, chi.URLParam(r, "actorID"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actorID")
	if _, ok := a.authorizeSelfOr(w, r, id, readStaff); !ok {
		return
	}
	target, err := a.svc.Directory.Actor(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	resp := permissionsResponse{ActorID: target.ID, Role: target.Role, Matrix: auth.Matrix{}}
	if target.Role.StaffTier() {
		m, err := a.svc.Matrix.Matrix(r.Context(), target.ID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		resp.Matrix = m
	} else {
		resp.Implicit = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	by, ok := a.authorize(w, r, manageStaff)
	if !ok {
		return
	}
	id := chi.URLParam(r, "actorID")
	if by.ID == id && by.Role.StaffTier() {
		writeError(w, r, http.StatusForbidden, "staff cannot change their own permissions")
		return
	}
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	module, ok := auth.ParseModule(chi.URLParam(r, "module"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown module %q", chi.URLParam(r, "module")))
		return
	}
	access, ok := auth.ParseAccess(req.Access)
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown access %q", req.Access))
		return
	}
	grant, err := a.svc.Matrix.Grant(r.Context(), by, id, module, access, *req.Value)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, readSystem); !ok {
		return
	}
	flags, err := a.svc.Matrix.Flags(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": flags})
}

func (a *API) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	by, ok := a.authorize(w, r, writeSystem)
	if !ok {
		return
	}
	var req flagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	flag, err := a.svc.Matrix.SetFeatureFlag(r.Context(), by, chi.URLParam(r, "key"), *req.Enabled)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audit.ErrLedgerWrite):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "audit ledger unavailable")
	case errors.Is(err, auth.ErrDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidGrantTarget):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
