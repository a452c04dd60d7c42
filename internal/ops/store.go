package ops

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"benchguard.io/internal/ids"
)

// Source is the read side consumed by the anomaly scan.
type Source interface {
	Transactions(ctx context.Context) ([]Transaction, error)
	Repairs(ctx context.Context) ([]Repair, error)
	InventoryEvents(ctx context.Context) ([]InventoryEvent, error)
}

// InMemory keeps operational records in process with concurrency safety.
// The platform's own billing/repair/inventory services are the durable owners;
// this implementation backs development and tests.
type InMemory struct {
	mu   sync.RWMutex
	seq  uint64
	txs  []Transaction
	reps []Repair
	inv  []InventoryEvent
	idem map[string]Transaction // idemKey -> tx
	now  func() time.Time
}

// NewInMemory creates an empty record set.
func NewInMemory() *InMemory {
	return &InMemory{idem: make(map[string]Transaction), now: time.Now}
}

var _ Source = (*InMemory)(nil)

// RecordTransaction stores a payment. A repeated idemKey returns the first result.
func (s *InMemory) RecordTransaction(ctx context.Context, tx Transaction, idemKey string) (Transaction, error) {
	if tx.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	tx.Currency = strings.ToUpper(strings.TrimSpace(tx.Currency))
	if tx.Currency == "" {
		return Transaction{}, ErrInvalidCurrency
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if prev, ok := s.idem[idemKey]; ok {
			return prev, nil
		}
	}
	tx.OccurredAt = s.stamp(tx.OccurredAt)
	if tx.ID == "" {
		tx.ID = ids.NewAt(tx.OccurredAt)
	}
	s.seq++
	tx.Sequence = s.seq
	s.txs = append(s.txs, tx)
	if idemKey != "" {
		s.idem[idemKey] = tx
	}
	return tx, nil
}

// RecordRepair stores a completed repair.
func (s *InMemory) RecordRepair(ctx context.Context, r Repair) (Repair, error) {
	if r.PartsCost < 0 || r.TechnicianCost < 0 || r.ChargedCost < 0 {
		return Repair{}, fmt.Errorf("%w: costs must not be negative", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.OccurredAt = s.stamp(r.OccurredAt)
	if r.ID == "" {
		r.ID = ids.NewAt(r.OccurredAt)
	}
	s.seq++
	r.Sequence = s.seq
	s.reps = append(s.reps, r)
	return r, nil
}

// RecordInventory stores a stock movement.
func (s *InMemory) RecordInventory(ctx context.Context, ev InventoryEvent) (InventoryEvent, error) {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return InventoryEvent{}, fmt.Errorf("%w: action is required", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.OccurredAt = s.stamp(ev.OccurredAt)
	if ev.ID == "" {
		ev.ID = ids.NewAt(ev.OccurredAt)
	}
	s.seq++
	ev.Sequence = s.seq
	s.inv = append(s.inv, ev)
	return ev, nil
}

func (s *InMemory) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC()
}

// Transactions returns a snapshot in record order.
func (s *InMemory) Transactions(ctx context.Context) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Transaction(nil), s.txs...), nil
}

// Repairs returns a snapshot in record order.
func (s *InMemory) Repairs(ctx context.Context) ([]Repair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Repair(nil), s.reps...), nil
}

// InventoryEvents returns a snapshot in record order.
func (s *InMemory) InventoryEvents(ctx context.Context) ([]InventoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]InventoryEvent(nil), s.inv...), nil
}
