package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"benchguard.io/internal/ids"
	"benchguard.io/internal/obs"
)

// Status is the outcome of a routine action.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// Well-known action labels produced by platform flows.
const (
	ActionLogin          = "Login"
	ActionSignup         = "Signup"
	ActionStockItemAdded = "Stock Item Added"
	ActionAccessDenied   = "Access Denied"
)

var ErrInvalidEntry = errors.New("activity: invalid entry")

// Entry is a routine, high-volume event used for volume heuristics.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	UserRole   string    `json:"user_role"`
	Action     string    `json:"action"`
	Module     string    `json:"module"`
	RefID      string    `json:"ref_id,omitempty"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Filter narrows a listing; the zero value returns everything, newest first.
type Filter struct {
	UserID string
	Action string
	Since  time.Time
	Limit  int
}

func (f Filter) match(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && !strings.EqualFold(e.Action, f.Action) {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists activity entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder is the write side of the activity log.
type Recorder interface {
	Record(ctx context.Context, e Entry) (Entry, error)
}

// Log records routine actions. Writing requires no capability.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog constructs a Log over store.
func NewLog(store Store) (*Log, error) {
	if store == nil {
		return nil, errors.New("activity store is required")
	}
	return &Log{store: store, now: time.Now}, nil
}

// Record appends e, filling in id, status and timestamp when absent.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	switch e.Status {
	case "":
		e.Status = StatusSuccess
	case StatusSuccess, StatusFailed:
	default:
		return Entry{}, fmt.Errorf("%w: unsupported status %q", ErrInvalidEntry, e.Status)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now()
	}
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	e.ID = ids.NewAt(e.OccurredAt)
	if err := l.store.Append(ctx, &e); err != nil {
		return Entry{}, err
	}
	obs.ObserveActivity(string(e.Status))
	return e, nil
}

// List returns entries matching f, newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	return l.store.Query(ctx, f)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps activity entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	res := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.match(e) {
			res = append(res, e)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].OccurredAt.Equal(res[j].OccurredAt) {
			return res[i].OccurredAt.After(res[j].OccurredAt)
		}
		return res[i].ID > res[j].ID
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}
