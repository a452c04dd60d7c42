package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/auth"
	"benchguard.io/internal/obs"
	"benchguard.io/internal/ops"
)

var (
	writeBilling   = auth.Requirement{Capability: auth.CapManageBilling, Access: auth.AccessWrite}
	writeRepairs   = auth.Requirement{Capability: auth.CapManageRepairs, Access: auth.AccessWrite}
	writeInventory = auth.Requirement{Capability: auth.CapManageInventory, Access: auth.AccessWrite}
)

type transactionRequest struct {
	Amount         float64 `json:"amount" validate:"gt=0"`
	Currency       string  `json:"currency" validate:"required,len=3,alpha"`
	IdempotencyKey string  `json:"idempotency_key" validate:"max=128"`
}

type repairRequest struct {
	Device         string  `json:"device" validate:"required,max=120"`
	TechnicianID   string  `json:"technician_id" validate:"max=64"`
	PartsCost      float64 `json:"parts_cost" validate:"gte=0"`
	TechnicianCost float64 `json:"technician_cost" validate:"gte=0"`
	ChargedCost    float64 `json:"charged_cost" validate:"gte=0"`
}

type inventoryRequest struct {
	SKU    string `json:"sku" validate:"required,max=64"`
	Action string `json:"action" validate:"required,max=80"`
}

func (a *API) opsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if a.svc.Ops == nil {
		writeError(w, r, http.StatusServiceUnavailable, "operations feed disabled")
		return false
	}
	return true
}

func (a *API) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	if !a.opsEnabled(w, r) {
		return
	}
	actor, ok := a.authorize(w, r, writeBilling)
	if !ok {
		return
	}
	var req transactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if body := strings.TrimSpace(req.IdempotencyKey); body != "" {
		if idem == "" {
			idem = body
		} else if idem != body {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}
	tx, err := a.svc.Ops.RecordTransaction(r.Context(), ops.Transaction{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, idem)
	if err != nil {
		handleOpsError(w, r, err)
		return
	}
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) handleRecordRepair(w http.ResponseWriter, r *http.Request) {
	if !a.opsEnabled(w, r) {
		return
	}
	actor, ok := a.authorize(w, r, writeRepairs)
	if !ok {
		return
	}
	var req repairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	technician := strings.TrimSpace(req.TechnicianID)
	if technician == "" {
		technician = actor.ID
	}
	rep, err := a.svc.Ops.RecordRepair(r.Context(), ops.Repair{
		Device:         req.Device,
		TechnicianID:   technician,
		PartsCost:      req.PartsCost,
		TechnicianCost: req.TechnicianCost,
		ChargedCost:    req.ChargedCost,
	})
	if err != nil {
		handleOpsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// handleRecordInventory stores the stock movement. Additions are mirrored
// into the activity log with the event id as ref so the surge rule counts
// them once.
func (a *API) handleRecordInventory(w http.ResponseWriter, r *http.Request) {
	if !a.opsEnabled(w, r) {
		return
	}
	actor, ok := a.authorize(w, r, writeInventory)
	if !ok {
		return
	}
	var req inventoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ev, err := a.svc.Ops.RecordInventory(r.Context(), ops.InventoryEvent{
		ActorID: actor.ID,
		SKU:     req.SKU,
		Action:  req.Action,
	})
	if err != nil {
		handleOpsError(w, r, err)
		return
	}
	if strings.EqualFold(ev.Action, activity.ActionStockItemAdded) {
		_, err := a.svc.Activity.Record(r.Context(), activity.Entry{
			UserID:     actor.ID,
			UserRole:   string(actor.Role),
			Action:     activity.ActionStockItemAdded,
			Module:     string(auth.ModuleInventory),
			RefID:      ev.ID,
			OccurredAt: ev.OccurredAt,
		})
		if err != nil {
			obs.Logger().Warn("mirror inventory activity failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, ev)
}

func handleOpsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ops.ErrInvalidAmount), errors.Is(err, ops.ErrInvalidCurrency), errors.Is(err, ops.ErrInvalidRecord):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
