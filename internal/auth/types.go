package auth

import (
	"fmt"
	"time"
)

// ActorStatus is the lifecycle state of an actor. Actors are never deleted.
type ActorStatus string

const (
	StatusActive   ActorStatus = "active"
	StatusDisabled ActorStatus = "disabled"
)

// ParseStatus accepts "active" or "disabled"; empty means active.
func ParseStatus(raw string) (ActorStatus, bool) {
	switch ActorStatus(raw) {
	case "", StatusActive:
		return StatusActive, true
	case StatusDisabled:
		return StatusDisabled, true
	}
	return "", false
}

// Actor is an identity that can request privileged actions.
type Actor struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Role         Role        `json:"role"`
	Status       ActorStatus `json:"status"`
	PasswordHash string      `json:"-"`
	// Generation is bumped on force-logout; tokens minted for an older
	// generation are rejected.
	Generation int64     `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (a *Actor) Active() bool { return a != nil && a.Status == StatusActive }

// Grant is the read/write pair a staff-tier actor holds for one module.
// Write without read is representable and kept as stored.
type Grant struct {
	ActorID   string    `json:"actor_id"`
	Module    Module    `json:"module"`
	Read      bool      `json:"read"`
	Write     bool      `json:"write"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Allows reports whether the grant carries the requested access kind.
func (g Grant) Allows(a Access) bool {
	switch a {
	case AccessRead:
		return g.Read
	case AccessWrite:
		return g.Write
	}
	return false
}

func (g Grant) with(a Access, value bool) Grant {
	switch a {
	case AccessRead:
		g.Read = value
	case AccessWrite:
		g.Write = value
	}
	return g
}

// Matrix is the typed per-module projection of an actor's grants.
type Matrix map[Module]Grant

// NewMatrix indexes grants by module, dropping unknown module ids.
func NewMatrix(grants []Grant) Matrix {
	m := make(Matrix, len(grants))
	for _, g := range grants {
		if g.Module.Valid() {
			m[g.Module] = g
		}
	}
	return m
}

// Lookup returns the grant for module, if any.
func (m Matrix) Lookup(module Module) (Grant, bool) {
	g, ok := m[module]
	return g, ok
}

// FeatureFlag is a platform-wide toggle owned by the settings module.
type FeatureFlag struct {
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PermissionChange is published to sessions watching an actor's matrix.
type PermissionChange struct {
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Module    Module    `json:"module,omitempty"`
	Access    Access    `json:"access,omitempty"`
	Value     bool      `json:"value"`
	ChangedBy string    `json:"changed_by,omitempty"`
	AuditID   string    `json:"audit_id,omitempty"`
	At        time.Time `json:"at"`
}

// Ledger action labels written by this package.
const (
	ActionPermissionGranted     = "PERMISSION_GRANTED"
	ActionPermissionRevoked     = "PERMISSION_REVOKED"
	ActionPermissionProvisioned = "PERMISSION_PROVISIONED"
	ActionFeatureFlagUpdate     = "FEATURE_FLAG_UPDATE"
	ActionActorProvisioned      = "ACTOR_PROVISIONED"
	ActionActorDisabled         = "ACTOR_DISABLED"
	ActionActorEnabled          = "ACTOR_ENABLED"
	ActionForceLogout           = "FORCE_LOGOUT"
)

func grantDetails(module Module, access Access, value bool) string {
	verb := "revoked"
	if value {
		verb = "granted"
	}
	return fmt.Sprintf("Module [%s] %s %s", module, access.Title(), verb)
}

func flagDetails(key string, enabled bool) string {
	state := "DISABLED"
	if enabled {
		state = "ENABLED"
	}
	return fmt.Sprintf("Flag [%s] transitioned to %s", key, state)
}
