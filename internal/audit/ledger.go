package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"benchguard.io/internal/ids"
	"benchguard.io/internal/obs"
)

// MaxListLimit bounds an explicit page size. A zero limit is unbounded.
const MaxListLimit = 1000

// Ledger is the append-only audit trail. Append is its only mutator.
type Ledger struct {
	store  Store
	linker LinkedAppender
	mu     sync.Mutex
	chain  bool
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithChain links every new entry to its predecessor with a blake3 hash.
func WithChain(enabled bool) Option {
	return func(l *Ledger) { l.chain = enabled }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a ledger over store.
func NewLedger(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Ledger{store: store, now: time.Now}
	l.linker, _ = store.(LinkedAppender)
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Chained reports whether new entries are hash-linked.
func (l *Ledger) Chained() bool { return l.chain }

// Append records e and returns the stored copy with id, timestamp and (when
// chaining) hashes filled in. Store failures are wrapped in ErrLedgerWrite.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	e.Resource = strings.TrimSpace(e.Resource)
	e.ActorRole = strings.TrimSpace(e.ActorRole)
	if e.Action == "" || e.Resource == "" {
		return Entry{}, fmt.Errorf("%w: action and resource are required", ErrInvalidEntry)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now()
	}
	// Postgres keeps microseconds; truncating keeps hashes stable across round trips.
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	e.PrevHash, e.Hash = "", ""

	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	switch {
	case !l.chain:
		e.ID = ids.NewAt(e.OccurredAt)
		err = l.store.Append(ctx, &e)
	case l.linker != nil:
		err = l.linker.AppendLinked(ctx, func(last Entry, ok bool) *Entry {
			link(&e, last, ok)
			return &e
		})
	default:
		var (
			last Entry
			ok   bool
		)
		if last, ok, err = l.store.Last(ctx); err == nil {
			link(&e, last, ok)
			err = l.store.Append(ctx, &e)
		}
	}
	if err != nil {
		obs.ObserveAuditAppend(err)
		return Entry{}, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}
	obs.ObserveAuditAppend(nil)
	LogEvent(ctx, e)
	return e, nil
}

// link chains e onto last and assigns its id and hash.
func link(e *Entry, last Entry, ok bool) {
	e.PrevHash = ""
	if ok {
		e.PrevHash = last.Hash
		// Chained entries must sort in append order for Verify.
		if !e.OccurredAt.After(last.OccurredAt) {
			e.OccurredAt = last.OccurredAt.Add(time.Microsecond)
		}
	}
	e.ID = ids.NewAt(e.OccurredAt)
	e.Hash = chainHash(e.PrevHash, *e)
}

// List returns entries matching f, newest first unless f.Ascending is set.
// A zero limit returns every matching entry.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit < 0 {
		f.Limit = 0
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return l.store.Query(ctx, f)
}

// Verify walks the ledger oldest first and checks every hash-linked entry.
// Entries written while chaining was disabled are skipped and restart the chain.
func (l *Ledger) Verify(ctx context.Context) (checked int, err error) {
	entries, err := l.store.Query(ctx, Filter{Ascending: true})
	if err != nil {
		return 0, err
	}
	prev := ""
	for _, e := range entries {
		if e.Hash == "" {
			prev = ""
			continue
		}
		if e.PrevHash != prev {
			return checked, fmt.Errorf("%w: entry %s does not link to its predecessor", ErrChainBroken, e.ID)
		}
		if chainHash(e.PrevHash, e) != e.Hash {
			return checked, fmt.Errorf("%w: entry %s content does not match its hash", ErrChainBroken, e.ID)
		}
		prev = e.Hash
		checked++
	}
	return checked, nil
}
