package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
)

var (
	viewAudit   = auth.Requirement{Capability: auth.CapViewAudit, Access: auth.AccessRead}
	viewReports = auth.Requirement{Capability: auth.CapViewReports, Access: auth.AccessRead}
)

type listAuditResponse struct {
	Items []audit.Entry `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

type activityRequest struct {
	Action string `json:"action" validate:"required,max=80"`
	Module string `json:"module" validate:"max=40"`
	RefID  string `json:"ref_id" validate:"max=128"`
	Status string `json:"status" validate:"omitempty,oneof=Success Failed"`
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewAudit); !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, audit.MaxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseTime(q.Get("since"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	until, err := parseTime(q.Get("until"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var ascending bool
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		writeError(w, r, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	entries, err := a.svc.Ledger.List(r.Context(), audit.Filter{
		Query:     q.Get("q"),
		Since:     since,
		Until:     until,
		Limit:     limit,
		Ascending: ascending,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Items: entries, AsOf: time.Now().UTC()})
}

func (a *API) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewAudit); !ok {
		return
	}
	checked, err := a.svc.Ledger.Verify(r.Context())
	switch {
	case errors.Is(err, audit.ErrChainBroken):
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid":   false,
			"checked": checked,
			"error":   err.Error(),
		})
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "audit verification failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":   true,
			"checked": checked,
			"chained": a.svc.Ledger.Chained(),
		})
	}
}

func (a *API) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewReports); !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseTime(q.Get("since"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.svc.Activity.List(r.Context(), activity.Filter{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Since:  since,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "activity query failed")
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// handleRecordActivity logs a routine action for the caller. Writing needs
// no capability; the entry is always attributed to the authenticated actor.
func (a *API) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	var req activityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := a.svc.Activity.Record(r.Context(), activity.Entry{
		UserID:   actor.ID,
		UserRole: string(actor.Role),
		Action:   req.Action,
		Module:   req.Module,
		RefID:    req.RefID,
		Status:   activity.Status(req.Status),
	})
	if err != nil {
		if errors.Is(err, activity.ErrInvalidEntry) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "activity write failed")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
