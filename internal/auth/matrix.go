package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"benchguard.io/internal/audit"
	"benchguard.io/internal/obs"
	"benchguard.io/internal/stream"
)

// AuditAppender is the ledger surface privileged mutations write to.
type AuditAppender interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// MatrixManager is the only writer of the permission matrix and feature
// flags. Every successful mutation appends exactly one ledger entry; when the
// append fails the mutation is undone and an error wrapping
// audit.ErrLedgerWrite is returned.
type MatrixManager struct {
	store  Store
	ledger AuditAppender
	events *stream.Broker[PermissionChange]
	now    func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	flagMu sync.Mutex
}

// MatrixOption configures a MatrixManager.
type MatrixOption func(*MatrixManager)

// WithEvents publishes permission changes on b instead of a private broker.
func WithEvents(b *stream.Broker[PermissionChange]) MatrixOption {
	return func(m *MatrixManager) {
		if b != nil {
			m.events = b
		}
	}
}

// WithMatrixClock overrides the time source.
func WithMatrixClock(fn func() time.Time) MatrixOption {
	return func(m *MatrixManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewMatrixManager(store Store, ledger AuditAppender, opts ...MatrixOption) (*MatrixManager, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	if ledger == nil {
		return nil, errors.New("audit ledger is required")
	}
	m := &MatrixManager{
		store:  store,
		ledger: ledger,
		events: stream.NewBroker[PermissionChange](0),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Events exposes the broker permission changes are published on.
func (m *MatrixManager) Events() *stream.Broker[PermissionChange] { return m.events }

// Watch streams changes to actorID's matrix until ctx ends.
func (m *MatrixManager) Watch(ctx context.Context, actorID string) <-chan PermissionChange {
	return m.events.Subscribe(ctx, actorID)
}

func (m *MatrixManager) lockActor(actorID string) func() {
	m.mu.Lock()
	l, ok := m.locks[actorID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[actorID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *MatrixManager) staffTarget(ctx context.Context, actorID string) (*Actor, error) {
	target, err := m.store.Actors(ctx).Find(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: actor %s does not exist", ErrInvalidGrantTarget, actorID)
	}
	if err != nil {
		return nil, err
	}
	if !target.Role.StaffTier() {
		return nil, fmt.Errorf("%w: role %s does not use the permission matrix", ErrInvalidGrantTarget, target.Role)
	}
	return target, nil
}

// Grant sets one access kind of one module for a staff-tier actor. Other
// modules and the other access kind are left as stored.
func (m *MatrixManager) Grant(ctx context.Context, by *Actor, actorID string, module Module, access Access, value bool) (Grant, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Grant{}, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	if !module.Valid() {
		return Grant{}, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, module)
	}
	if access != AccessRead && access != AccessWrite {
		return Grant{}, fmt.Errorf("%w: unknown access kind %q", ErrInvalidInput, access)
	}

	unlock := m.lockActor(actorID)
	defer unlock()

	if _, err := m.staffTarget(ctx, actorID); err != nil {
		return Grant{}, err
	}
	grants := m.store.Grants(ctx)
	_, existed, err := grants.Find(ctx, actorID, module)
	if err != nil {
		return Grant{}, err
	}
	at := m.now().UTC()
	prev, next, err := grants.SetFlag(ctx, actorID, module, access, value, at)
	if err != nil {
		return Grant{}, err
	}

	action := ActionPermissionRevoked
	if value {
		action = ActionPermissionGranted
	}
	entry, err := m.append(ctx, by, action, string(module), grantDetails(module, access, value), at)
	if err != nil {
		var undo error
		if existed {
			_, _, undo = grants.SetFlag(ctx, actorID, module, access, prev.Allows(access), prev.UpdatedAt)
		} else {
			undo = grants.Remove(ctx, actorID, []Module{module})
		}
		if undo != nil {
			obs.Logger().Error("grant rollback failed",
				zap.String("actor_id", actorID),
				zap.String("module", string(module)),
				zap.Error(undo),
			)
		}
		return Grant{}, err
	}

	m.events.Publish(actorID, PermissionChange{
		ActorID:   actorID,
		Action:    action,
		Module:    module,
		Access:    access,
		Value:     value,
		ChangedBy: actorIDOf(by),
		AuditID:   entry.ID,
		At:        at,
	})
	return next, nil
}

// Provision seeds every module the actor has no grant for with read access
// only. Existing grants are left untouched.
func (m *MatrixManager) Provision(ctx context.Context, by *Actor, actorID string) (Matrix, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	unlock := m.lockActor(actorID)
	defer unlock()

	target, err := m.staffTarget(ctx, actorID)
	if err != nil {
		return nil, err
	}
	at := m.now().UTC()
	baseline := make([]Grant, 0, len(modules))
	for _, mod := range modules {
		baseline = append(baseline, Grant{ActorID: actorID, Module: mod, Read: true, UpdatedAt: at})
	}
	grants := m.store.Grants(ctx)
	inserted, err := grants.Seed(ctx, baseline)
	if err != nil {
		return nil, err
	}
	if len(inserted) > 0 {
		seeded := make([]Module, 0, len(inserted))
		names := make([]string, 0, len(inserted))
		for _, g := range inserted {
			seeded = append(seeded, g.Module)
			names = append(names, string(g.Module))
		}
		details := fmt.Sprintf("Baseline Read granted for %s on [%s]", displayName(target), strings.Join(names, ", "))
		entry, err := m.append(ctx, by, ActionPermissionProvisioned, string(ModuleStaff), details, at)
		if err != nil {
			if undo := grants.Remove(ctx, actorID, seeded); undo != nil {
				obs.Logger().Error("provision rollback failed", zap.String("actor_id", actorID), zap.Error(undo))
			}
			return nil, err
		}
		m.events.Publish(actorID, PermissionChange{
			ActorID:   actorID,
			Action:    ActionPermissionProvisioned,
			Access:    AccessRead,
			Value:     true,
			ChangedBy: actorIDOf(by),
			AuditID:   entry.ID,
			At:        at,
		})
	}
	all, err := grants.ForActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return NewMatrix(all), nil
}

// Matrix returns the stored grants of actorID as a read-only projection.
func (m *MatrixManager) Matrix(ctx context.Context, actorID string) (Matrix, error) {
	if _, err := m.store.Actors(ctx).Find(ctx, actorID); err != nil {
		return nil, err
	}
	grants, err := m.store.Grants(ctx).ForActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return NewMatrix(grants), nil
}

// SetFeatureFlag toggles a platform flag and records the transition.
func (m *MatrixManager) SetFeatureFlag(ctx context.Context, by *Actor, key string, enabled bool) (FeatureFlag, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return FeatureFlag{}, fmt.Errorf("%w: flag key is required", ErrInvalidInput)
	}
	m.flagMu.Lock()
	defer m.flagMu.Unlock()

	flags := m.store.Flags(ctx)
	at := m.now().UTC()
	prev, existed, err := flags.Set(ctx, key, enabled, at)
	if err != nil {
		return FeatureFlag{}, err
	}
	if _, err := m.append(ctx, by, ActionFeatureFlagUpdate, string(ModuleSettings), flagDetails(key, enabled), at); err != nil {
		if undo := flags.Restore(ctx, key, prev, existed); undo != nil {
			obs.Logger().Error("flag rollback failed", zap.String("flag", key), zap.Error(undo))
		}
		return FeatureFlag{}, err
	}
	return FeatureFlag{Key: key, Enabled: enabled, UpdatedAt: at}, nil
}

// Flags lists feature flags ordered by key.
func (m *MatrixManager) Flags(ctx context.Context) ([]FeatureFlag, error) {
	return m.store.Flags(ctx).List(ctx)
}

func (m *MatrixManager) append(ctx context.Context, by *Actor, action, resource, details string, at time.Time) (audit.Entry, error) {
	return appendAudit(ctx, m.ledger, by, action, resource, details, at)
}

// appendAudit writes one ledger entry attributed to by and guarantees the
// returned error, if any, matches audit.ErrLedgerWrite.
func appendAudit(ctx context.Context, ledger AuditAppender, by *Actor, action, resource, details string, at time.Time) (audit.Entry, error) {
	entry, err := ledger.Append(ctx, audit.Entry{
		ActorID:    actorIDOf(by),
		ActorRole:  actorRoleOf(by),
		Action:     action,
		Resource:   resource,
		Details:    details,
		OccurredAt: at,
	})
	if err != nil {
		if errors.Is(err, audit.ErrLedgerWrite) {
			return audit.Entry{}, err
		}
		return audit.Entry{}, fmt.Errorf("%w: %w", audit.ErrLedgerWrite, err)
	}
	return entry, nil
}

func actorIDOf(a *Actor) string {
	if a == nil {
		return ""
	}
	return a.ID
}

func actorRoleOf(a *Actor) string {
	if a == nil {
		return "SYSTEM"
	}
	return string(a.Role)
}

func displayName(a *Actor) string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.Email
}
