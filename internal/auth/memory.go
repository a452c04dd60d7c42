package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"benchguard.io/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps actors, grants and flags in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	actors map[string]*Actor
	grants map[string]map[Module]Grant
	flags  map[string]FeatureFlag
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actors: make(map[string]*Actor),
		grants: make(map[string]map[Module]Grant),
		flags:  make(map[string]FeatureFlag),
	}
}

func (s *MemoryStore) Actors(ctx context.Context) ActorStore { return memActors{s} }
func (s *MemoryStore) Grants(ctx context.Context) GrantStore { return memGrants{s} }
func (s *MemoryStore) Flags(ctx context.Context) FlagStore   { return memFlags{s} }

// Actor store --------------------------------------------------------------
type memActors struct{ s *MemoryStore }

func (m memActors) Create(ctx context.Context, a *Actor) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	if _, ok := m.s.actors[a.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range m.s.actors {
		if strings.EqualFold(existing.Email, a.Email) {
			return ErrAlreadyExists
		}
	}
	cp := *a
	m.s.actors[a.ID] = &cp
	return nil
}

func (m memActors) Find(ctx context.Context, id string) (*Actor, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	a, ok := m.s.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m memActors) FindByEmail(ctx context.Context, email string) (*Actor, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, a := range m.s.actors {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memActors) List(ctx context.Context) ([]*Actor, error) {
	m.s.mu.RLock()
	res := make([]*Actor, 0, len(m.s.actors))
	for _, a := range m.s.actors {
		cp := *a
		res = append(res, &cp)
	}
	m.s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m memActors) Count(ctx context.Context) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return len(m.s.actors), nil
}

func (m memActors) SetStatus(ctx context.Context, id string, status ActorStatus, at time.Time) (*Actor, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

func (m memActors) BumpGeneration(ctx context.Context, id string, at time.Time) (*Actor, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Generation++
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

// Grant store --------------------------------------------------------------
type memGrants struct{ s *MemoryStore }

func (m memGrants) ForActor(ctx context.Context, actorID string) ([]Grant, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	res := make([]Grant, 0, len(m.s.grants[actorID]))
	for _, mod := range modules {
		if g, ok := m.s.grants[actorID][mod]; ok {
			res = append(res, g)
		}
	}
	return res, nil
}

func (m memGrants) Find(ctx context.Context, actorID string, module Module) (Grant, bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	g, ok := m.s.grants[actorID][module]
	return g, ok, nil
}

func (m memGrants) SetFlag(ctx context.Context, actorID string, module Module, access Access, value bool, at time.Time) (Grant, Grant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.grants[actorID]
	if !ok {
		row = make(map[Module]Grant)
		m.s.grants[actorID] = row
	}
	prev, existed := row[module]
	if !existed {
		prev = Grant{ActorID: actorID, Module: module}
	}
	next := prev.with(access, value)
	next.UpdatedAt = at
	row[module] = next
	return prev, next, nil
}

func (m memGrants) Seed(ctx context.Context, grants []Grant) ([]Grant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var inserted []Grant
	for _, g := range grants {
		row, ok := m.s.grants[g.ActorID]
		if !ok {
			row = make(map[Module]Grant)
			m.s.grants[g.ActorID] = row
		}
		if _, exists := row[g.Module]; exists {
			continue
		}
		row[g.Module] = g
		inserted = append(inserted, g)
	}
	return inserted, nil
}

func (m memGrants) Remove(ctx context.Context, actorID string, mods []Module) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, mod := range mods {
		delete(m.s.grants[actorID], mod)
	}
	return nil
}

// Flag store ---------------------------------------------------------------
type memFlags struct{ s *MemoryStore }

func (m memFlags) List(ctx context.Context) ([]FeatureFlag, error) {
	m.s.mu.RLock()
	res := make([]FeatureFlag, 0, len(m.s.flags))
	for _, f := range m.s.flags {
		res = append(res, f)
	}
	m.s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

func (m memFlags) Set(ctx context.Context, key string, enabled bool, at time.Time) (FeatureFlag, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	prev, existed := m.s.flags[key]
	m.s.flags[key] = FeatureFlag{Key: key, Enabled: enabled, UpdatedAt: at}
	return prev, existed, nil
}

func (m memFlags) Restore(ctx context.Context, key string, prev FeatureFlag, existed bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !existed {
		delete(m.s.flags, key)
		return nil
	}
	m.s.flags[key] = prev
	return nil
}
