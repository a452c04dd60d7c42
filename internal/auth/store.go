package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Actors(ctx context.Context) ActorStore
	Grants(ctx context.Context) GrantStore
	Flags(ctx context.Context) FlagStore
}

// ActorStore manages actors. There is no delete; actors are soft-disabled.
type ActorStore interface {
	Create(ctx context.Context, a *Actor) error
	Find(ctx context.Context, id string) (*Actor, error)
	FindByEmail(ctx context.Context, email string) (*Actor, error)
	List(ctx context.Context) ([]*Actor, error)
	Count(ctx context.Context) (int, error)
	SetStatus(ctx context.Context, id string, status ActorStatus, at time.Time) (*Actor, error)
	// BumpGeneration invalidates every token minted so far for the actor.
	BumpGeneration(ctx context.Context, id string, at time.Time) (*Actor, error)
}

// GrantStore manages the permission matrix. SetFlag changes a single field
// atomically so concurrent edits of other modules or kinds survive.
type GrantStore interface {
	ForActor(ctx context.Context, actorID string) ([]Grant, error)
	Find(ctx context.Context, actorID string, module Module) (Grant, bool, error)
	SetFlag(ctx context.Context, actorID string, module Module, access Access, value bool, at time.Time) (prev, next Grant, err error)
	// Seed inserts grants for modules the actor has no row for and leaves
	// existing rows untouched. It returns the rows it inserted.
	Seed(ctx context.Context, grants []Grant) ([]Grant, error)
	// Remove drops rows inserted by Seed; it exists only to undo a seed whose
	// audit entry could not be written.
	Remove(ctx context.Context, actorID string, modules []Module) error
}

// FlagStore manages platform feature flags.
type FlagStore interface {
	List(ctx context.Context) ([]FeatureFlag, error)
	Set(ctx context.Context, key string, enabled bool, at time.Time) (prev FeatureFlag, existed bool, err error)
	Restore(ctx context.Context, key string, prev FeatureFlag, existed bool) error
}
