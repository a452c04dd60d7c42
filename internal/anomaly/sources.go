package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
	"benchguard.io/internal/obs"
	"benchguard.io/internal/ops"
)

// AuditSource reads ledger entries.
type AuditSource interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// ActivitySource reads activity entries.
type ActivitySource interface {
	List(ctx context.Context, f activity.Filter) ([]activity.Entry, error)
}

// ActorSource resolves actor display names.
type ActorSource interface {
	List(ctx context.Context) ([]*auth.Actor, error)
}

// Sources are the collaborators a scan snapshot is read from. Any of them may
// be nil, which marks that source unavailable.
type Sources struct {
	Audit    AuditSource
	Activity ActivitySource
	Ops      ops.Source
	Actors   ActorSource
	// Lookback bounds how far back activity rows are read. Zero reads all.
	Lookback time.Duration
}

// Collect reads a snapshot of every source. Read failures never abort the
// collection; they are recorded in Input.Unavailable.
func (s Sources) Collect(ctx context.Context, now time.Time) Input {
	in := Input{Now: now, Unavailable: map[Source]error{}}
	mark := func(src Source, err error) {
		in.Unavailable[src] = fmt.Errorf("%w: %s: %v", ErrInputUnavailable, src, err)
		obs.Logger().Warn("anomaly source unavailable", zap.String("source", string(src)), zap.Error(err))
	}
	missing := errors.New("not configured")

	if s.Audit == nil {
		mark(SourceAudit, missing)
	} else if entries, err := s.Audit.List(ctx, audit.Filter{}); err != nil {
		mark(SourceAudit, err)
	} else {
		in.Audit = entries
	}

	if s.Activity == nil {
		mark(SourceActivity, missing)
	} else {
		f := activity.Filter{}
		if s.Lookback > 0 {
			f.Since = now.Add(-s.Lookback)
		}
		if entries, err := s.Activity.List(ctx, f); err != nil {
			mark(SourceActivity, err)
		} else {
			in.Activity = entries
		}
	}

	if s.Ops == nil {
		mark(SourceTransactions, missing)
		mark(SourceRepairs, missing)
		mark(SourceInventory, missing)
	} else {
		if txs, err := s.Ops.Transactions(ctx); err != nil {
			mark(SourceTransactions, err)
		} else {
			in.Transactions = txs
		}
		if reps, err := s.Ops.Repairs(ctx); err != nil {
			mark(SourceRepairs, err)
		} else {
			in.Repairs = reps
		}
		if inv, err := s.Ops.InventoryEvents(ctx); err != nil {
			mark(SourceInventory, err)
		} else {
			in.Inventory = inv
		}
	}

	if s.Actors != nil {
		if actors, err := s.Actors.List(ctx); err == nil {
			in.Names = make(map[string]string, len(actors))
			for _, a := range actors {
				name := a.Name
				if name == "" {
					name = a.Email
				}
				in.Names[a.ID] = name
			}
		}
	}
	return in
}
