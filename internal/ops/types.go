package ops

import (
	"errors"
	"time"
)

// Transaction is a payment recorded by the billing module. Amount is in
// major currency units; thresholds applied to it are currency-agnostic.
type Transaction struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
	Sequence   uint64    `json:"sequence"`
}

// Repair is a completed job with its cost breakdown.
type Repair struct {
	ID             string    `json:"id"`
	Device         string    `json:"device"`
	TechnicianID   string    `json:"technician_id"`
	PartsCost      float64   `json:"parts_cost"`
	TechnicianCost float64   `json:"technician_cost"`
	ChargedCost    float64   `json:"charged_cost"`
	OccurredAt     time.Time `json:"occurred_at"`
	Sequence       uint64    `json:"sequence"`
}

// ResourceCost is what the shop spent on the repair.
func (r Repair) ResourceCost() float64 { return r.PartsCost + r.TechnicianCost }

// InventoryEvent is a stock movement.
type InventoryEvent struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	SKU        string    `json:"sku"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
	Sequence   uint64    `json:"sequence"`
}

var (
	ErrInvalidAmount   = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidRecord   = errors.New("invalid record")
)
