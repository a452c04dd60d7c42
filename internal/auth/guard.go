package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/obs"
)

// Guard intercepts privileged operations and lets them run only when the
// resolver allows. Re-resolution is lazy: every call reads the current matrix.
type Guard struct {
	resolver *Resolver
	denials  activity.Recorder
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithDenialLog records every denial as a failed activity entry.
func WithDenialLog(rec activity.Recorder) GuardOption {
	return func(g *Guard) { g.denials = rec }
}

func NewGuard(resolver *Resolver, opts ...GuardOption) *Guard {
	g := &Guard{resolver: resolver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns nil when actor satisfies req, or an error wrapping ErrDenied.
func (g *Guard) Authorize(ctx context.Context, actor *Actor, req Requirement) error {
	d := g.resolver.Resolve(ctx, actor, req)
	if d.Allowed {
		return nil
	}
	g.recordDenial(ctx, actor, req, d)
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

// Do runs fn only when Authorize succeeds. A denial is a no-op for fn.
func (g *Guard) Do(ctx context.Context, actor *Actor, req Requirement, fn func(ctx context.Context) error) error {
	if err := g.Authorize(ctx, actor, req); err != nil {
		return err
	}
	return fn(ctx)
}

func (g *Guard) recordDenial(ctx context.Context, actor *Actor, req Requirement, d Decision) {
	fields := []zap.Field{
		zap.String("reason", d.Reason),
		zap.String("role", string(req.Role)),
		zap.String("capability", string(req.Capability)),
		zap.String("access", string(req.Access)),
	}
	if actor != nil {
		fields = append(fields, zap.String("actor_id", actor.ID), zap.String("actor_role", string(actor.Role)))
	}
	obs.Logger().Info("access denied", fields...)

	if g.denials == nil || actor == nil || actor.ID == "" {
		return
	}
	module, _ := req.Capability.Module()
	_, err := g.denials.Record(ctx, activity.Entry{
		UserID:   actor.ID,
		UserRole: string(actor.Role),
		Action:   activity.ActionAccessDenied,
		Module:   string(module),
		RefID:    string(req.Capability),
		Status:   activity.StatusFailed,
	})
	if err != nil {
		obs.Logger().Warn("record denial failed", zap.String("actor_id", actor.ID), zap.Error(err))
	}
}
