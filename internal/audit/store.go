package audit

import (
	"context"
	"sort"
	"sync"
)

// Store persists ledger entries. It deliberately has no update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
	// Last returns the most recently appended entry; ok is false when empty.
	Last(ctx context.Context) (entry Entry, ok bool, err error)
}

// LinkedAppender is implemented by stores shared between processes. The store
// reads its newest entry and inserts the entry returned by link in one
// serialized step, so concurrent writers cannot fork the hash chain.
type LinkedAppender interface {
	AppendLinked(ctx context.Context, link func(last Entry, ok bool) *Entry) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

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
		if f.Match(e) {
			res = append(res, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(res, func(i, j int) bool {
		if f.Ascending {
			return Less(res[i], res[j])
		}
		return Less(res[j], res[i])
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *MemoryStore) Last(ctx context.Context) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}
