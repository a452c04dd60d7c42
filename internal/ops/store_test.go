package ops

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRecordTransactionValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.RecordTransaction(ctx, Transaction{Amount: 0, Currency: "USD"}, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := s.RecordTransaction(ctx, Transaction{Amount: 10}, ""); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
	tx, err := s.RecordTransaction(ctx, Transaction{Amount: 10, Currency: "usd"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if tx.Currency != "USD" || tx.ID == "" || tx.OccurredAt.IsZero() {
		t.Fatalf("unexpected transaction: %#v", tx)
	}
}

func TestIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	tx1, err := s.RecordTransaction(ctx, Transaction{Amount: 100, Currency: "GHS"}, "same-key")
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := s.RecordTransaction(ctx, Transaction{Amount: 100, Currency: "GHS"}, "same-key")
	if err != nil {
		t.Fatal(err)
	}
	if tx1.ID != tx2.ID || tx1.Sequence != tx2.Sequence {
		t.Fatalf("idempotency violated: %#v != %#v", tx1, tx2)
	}
	all, _ := s.Transactions(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single stored transaction, got %d", len(all))
	}
}

func TestRepairAndInventory(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.RecordRepair(ctx, Repair{PartsCost: -1}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	r, err := s.RecordRepair(ctx, Repair{Device: "iPhone 12", PartsCost: 80, TechnicianCost: 40, ChargedCost: 100})
	if err != nil {
		t.Fatal(err)
	}
	if r.ResourceCost() != 120 {
		t.Fatalf("unexpected resource cost %v", r.ResourceCost())
	}
	if _, err := s.RecordInventory(ctx, InventoryEvent{SKU: "SCR-1"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if _, err := s.RecordInventory(ctx, InventoryEvent{SKU: "SCR-1", Action: "Stock Item Added"}); err != nil {
		t.Fatal(err)
	}
	reps, _ := s.Repairs(ctx)
	inv, _ := s.InventoryEvents(ctx)
	if len(reps) != 1 || len(inv) != 1 || inv[0].Sequence <= reps[0].Sequence {
		t.Fatalf("unexpected snapshots: %#v %#v", reps, inv)
	}
}

func TestConcurrentRecords(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordTransaction(ctx, Transaction{Amount: 5, Currency: "USD"}, "")
		}()
	}
	wg.Wait()
	all, _ := s.Transactions(ctx)
	if len(all) != 50 {
		t.Fatalf("expected 50 transactions, got %d", len(all))
	}
	seen := map[uint64]bool{}
	for _, tx := range all {
		if seen[tx.Sequence] {
			t.Fatalf("duplicate sequence %d", tx.Sequence)
		}
		seen[tx.Sequence] = true
	}
}
