package audit

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrLedgerWrite means an entry could not be durably appended. The
	// privileged action it documents must be treated as failed.
	ErrLedgerWrite = errors.New("audit: ledger write failed")
	// ErrInvalidEntry rejects entries missing required fields.
	ErrInvalidEntry = errors.New("audit: invalid entry")
	// ErrChainBroken reports a hash-chain mismatch found by Verify.
	ErrChainBroken = errors.New("audit: hash chain broken")
)

// Entry is an immutable record of a privileged mutation.
type Entry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	Details    string    `json:"details"`
	OccurredAt time.Time `json:"occurred_at"`
	PrevHash   string    `json:"prev_hash,omitempty"`
	Hash       string    `json:"hash,omitempty"`
}

// Filter narrows a ledger listing. The zero value lists everything, newest first.
type Filter struct {
	// Query is matched case-insensitively as a substring of action, resource,
	// actor role and details.
	Query     string
	Since     time.Time
	Until     time.Time
	Limit     int
	Ascending bool
}

// Match reports whether e satisfies the filter's query and time bounds.
func (f Filter) Match(e Entry) bool {
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.OccurredAt.After(f.Until) {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	for _, field := range []string{e.Action, e.Resource, e.ActorRole, e.Details} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Less orders entries chronologically with the id as a tiebreaker.
func Less(a, b Entry) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}
