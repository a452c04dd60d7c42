package auth

import (
	"context"

	"go.uber.org/zap"

	"benchguard.io/internal/obs"
)

// Requirement is what a privileged action demands of the caller. Zero
// fields are not checked; an empty Access means read.
type Requirement struct {
	Role       Role       `json:"role,omitempty"`
	Capability Capability `json:"capability,omitempty"`
	Access     Access     `json:"access,omitempty"`
}

// Decision reasons.
const (
	ReasonSuperAdmin        = "super_admin"
	ReasonOwner             = "owner"
	ReasonRoleSatisfied     = "role_satisfied"
	ReasonGranted           = "granted"
	ReasonUnauthenticated   = "unauthenticated"
	ReasonDisabled          = "actor_disabled"
	ReasonUnknownRole       = "unknown_role"
	ReasonRoleMismatch      = "role_mismatch"
	ReasonUnknownCapability = "unknown_capability"
	ReasonUnknownAccess     = "unknown_access"
	ReasonNoGrant           = "no_grant"
	ReasonNotGranted        = "not_granted"
	ReasonLookupFailed      = "grant_lookup_failed"
)

// Decision is the outcome of a resolution.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Reason: reason} }

// Resolve decides whether actor satisfies req given its permission matrix.
// It is pure: it performs no I/O and never panics. Any malformed input
// (unknown role, capability or access kind) yields a denial.
func Resolve(actor *Actor, req Requirement, matrix Matrix) Decision {
	if actor == nil || actor.ID == "" {
		return deny(ReasonUnauthenticated)
	}
	if actor.Status != StatusActive {
		return deny(ReasonDisabled)
	}
	if !actor.Role.Valid() {
		return deny(ReasonUnknownRole)
	}
	if req.Role != "" {
		if !req.Role.Valid() {
			return deny(ReasonUnknownRole)
		}
		if actor.Role != req.Role && actor.Role != RoleSuperAdmin {
			return deny(ReasonRoleMismatch)
		}
	}
	if req.Capability == "" {
		if actor.Role == RoleSuperAdmin {
			return allow(ReasonSuperAdmin)
		}
		return allow(ReasonRoleSatisfied)
	}

	module, ok := req.Capability.Module()
	if !ok {
		return deny(ReasonUnknownCapability)
	}
	access := req.Access
	if access == "" {
		access = AccessRead
	}
	if access != AccessRead && access != AccessWrite {
		return deny(ReasonUnknownAccess)
	}

	switch {
	case actor.Role == RoleSuperAdmin:
		return allow(ReasonSuperAdmin)
	case actor.Role.Owner():
		return allow(ReasonOwner)
	}

	grant, ok := matrix.Lookup(module)
	if !ok {
		return deny(ReasonNoGrant)
	}
	if !grant.Allows(access) {
		return deny(ReasonNotGranted)
	}
	return allow(ReasonGranted)
}

// Resolver feeds Resolve with the actor's stored matrix.
type Resolver struct {
	grants func(ctx context.Context) GrantStore
}

// NewResolver builds a Resolver reading grants from store.
func NewResolver(store Store) *Resolver {
	return &Resolver{grants: store.Grants}
}

// Resolve loads the matrix only when the decision depends on it. A failed
// lookup denies.
func (r *Resolver) Resolve(ctx context.Context, actor *Actor, req Requirement) Decision {
	var matrix Matrix
	if actor != nil && actor.Role.StaffTier() && req.Capability != "" {
		grants, err := r.grants(ctx).ForActor(ctx, actor.ID)
		if err != nil {
			obs.Logger().Warn("grant lookup failed",
				zap.String("actor_id", actor.ID),
				zap.Error(err),
			)
			d := deny(ReasonLookupFailed)
			obs.ObserveDecision(d.Allowed, d.Reason)
			return d
		}
		matrix = NewMatrix(grants)
	}
	d := Resolve(actor, req, matrix)
	obs.ObserveDecision(d.Allowed, d.Reason)
	return d
}
