package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/obs"
)

// NewActor is the input to Register.
type NewActor struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// Directory manages actor lifecycle: provisioning, soft disable, sign-in and
// forced logout. Privileged changes are written to the ledger.
type Directory struct {
	store    Store
	ledger   AuditAppender
	matrix   *MatrixManager
	activity activity.Recorder
	tokens   *Tokens
	now      func() time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithActivity records sign-ups and sign-in attempts.
func WithActivity(rec activity.Recorder) DirectoryOption {
	return func(d *Directory) { d.activity = rec }
}

// WithTokens enables Login and ActorForToken.
func WithTokens(t *Tokens) DirectoryOption {
	return func(d *Directory) { d.tokens = t }
}

// WithDirectoryClock overrides the time source.
func WithDirectoryClock(fn func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.now = fn
		}
	}
}

func NewDirectory(store Store, ledger AuditAppender, matrix *MatrixManager, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	if ledger == nil {
		return nil, errors.New("audit ledger is required")
	}
	if matrix == nil {
		return nil, errors.New("matrix manager is required")
	}
	d := &Directory{store: store, ledger: ledger, matrix: matrix, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Register provisions a new actor. Staff-tier actors are seeded with the
// baseline matrix. Only a super admin may create another super admin, and a
// staff-tier caller may only create staff-tier actors.
func (d *Directory) Register(ctx context.Context, by *Actor, in NewActor) (*Actor, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if by != nil {
		if in.Role == RoleSuperAdmin && by.Role != RoleSuperAdmin {
			return nil, fmt.Errorf("%w: only a super admin may create a super admin", ErrDenied)
		}
		if by.Role.StaffTier() && !in.Role.StaffTier() {
			return nil, fmt.Errorf("%w: staff may only create staff accounts", ErrDenied)
		}
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	at := d.now().UTC()
	actor := &Actor{
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		Status:       StatusActive,
		PasswordHash: hash,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	actors := d.store.Actors(ctx)
	if err := actors.Create(ctx, actor); err != nil {
		return nil, err
	}
	details := fmt.Sprintf("Provisioned %s account for %s", actor.Role, actor.Email)
	if _, err := appendAudit(ctx, d.ledger, by, ActionActorProvisioned, string(ModuleStaff), details, at); err != nil {
		// Actors cannot be deleted; leave the unaudited account unusable.
		if _, undo := actors.SetStatus(ctx, actor.ID, StatusDisabled, at); undo != nil {
			obs.Logger().Error("disable unaudited actor failed", zap.String("actor_id", actor.ID), zap.Error(undo))
		}
		return nil, err
	}
	d.record(ctx, activity.Entry{
		UserID:   actor.ID,
		UserRole: string(actor.Role),
		Action:   activity.ActionSignup,
		Module:   string(ModuleStaff),
		RefID:    actorIDOf(by),
	})
	if actor.Role.StaffTier() {
		if _, err := d.matrix.Provision(ctx, by, actor.ID); err != nil {
			return nil, fmt.Errorf("provision matrix: %w", err)
		}
	}
	return actor, nil
}

// Bootstrap creates the first actor when the directory is empty. It reports
// whether an actor was created.
func (d *Directory) Bootstrap(ctx context.Context, in NewActor) (*Actor, bool, error) {
	n, err := d.store.Actors(ctx).Count(ctx)
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		return nil, false, nil
	}
	if in.Role == "" {
		in.Role = RoleSuperAdmin
	}
	if in.Role.StaffTier() {
		return nil, false, fmt.Errorf("%w: bootstrap actor must be an owner or super admin", ErrInvalidInput)
	}
	actor, err := d.Register(ctx, nil, in)
	if err != nil {
		return nil, false, err
	}
	return actor, true, nil
}

// Actor returns one actor by id.
func (d *Directory) Actor(ctx context.Context, id string) (*Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	return d.store.Actors(ctx).Find(ctx, id)
}

// List returns every actor, oldest first.
func (d *Directory) List(ctx context.Context) ([]*Actor, error) {
	return d.store.Actors(ctx).List(ctx)
}

// SetStatus soft-disables or re-enables an actor. Disabling also revokes
// every outstanding token.
func (d *Directory) SetStatus(ctx context.Context, by *Actor, id string, status ActorStatus) (*Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	if status != StatusActive && status != StatusDisabled {
		return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	if by != nil && by.ID == id && status == StatusDisabled {
		return nil, fmt.Errorf("%w: actors cannot disable themselves", ErrInvalidInput)
	}
	actors := d.store.Actors(ctx)
	current, err := actors.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canManage(by, current); err != nil {
		return nil, err
	}

	at := d.now().UTC()
	updated, err := actors.SetStatus(ctx, id, status, at)
	if err != nil {
		return nil, err
	}
	action := ActionActorEnabled
	details := fmt.Sprintf("Account %s enabled", current.Email)
	if status == StatusDisabled {
		action = ActionActorDisabled
		details = fmt.Sprintf("Account %s disabled and sessions revoked", current.Email)
		if updated, err = actors.BumpGeneration(ctx, id, at); err != nil {
			return nil, err
		}
	}
	if _, err := appendAudit(ctx, d.ledger, by, action, string(ModuleStaff), details, at); err != nil {
		if _, undo := actors.SetStatus(ctx, id, current.Status, current.UpdatedAt); undo != nil {
			obs.Logger().Error("status rollback failed", zap.String("actor_id", id), zap.Error(undo))
		}
		return nil, err
	}
	return updated, nil
}

// canManage applies the role hierarchy to account actions: staff-tier callers
// may only act on staff-tier accounts and only a super admin may act on a
// super admin. A nil caller is the system.
func canManage(by, target *Actor) error {
	if by == nil {
		return nil
	}
	if target.Role == RoleSuperAdmin && by.Role != RoleSuperAdmin {
		return fmt.Errorf("%w: only a super admin may change a super admin", ErrDenied)
	}
	if by.Role.StaffTier() && !target.Role.StaffTier() {
		return fmt.Errorf("%w: %s may only manage staff accounts", ErrDenied, by.Role)
	}
	return nil
}

// ForceLogout revokes every token issued to the actor so far. Revocation is
// kept even when the ledger append fails; the error is still returned.
func (d *Directory) ForceLogout(ctx context.Context, by *Actor, id string) (*Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	actors := d.store.Actors(ctx)
	target, err := actors.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canManage(by, target); err != nil {
		return nil, err
	}
	at := d.now().UTC()
	updated, err := actors.BumpGeneration(ctx, id, at)
	if err != nil {
		return nil, err
	}
	details := fmt.Sprintf("Sessions revoked for %s", updated.Email)
	if _, err := appendAudit(ctx, d.ledger, by, ActionForceLogout, string(ModuleStaff), details, at); err != nil {
		return nil, err
	}
	return updated, nil
}

// Authenticate checks credentials and records the attempt as a Login entry.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (*Actor, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	actor, err := d.store.Actors(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		d.recordLogin(ctx, email, "", activity.StatusFailed)
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !actor.Active() || VerifyPassword(actor.PasswordHash, password) != nil {
		d.recordLogin(ctx, actor.ID, actor.Role, activity.StatusFailed)
		return nil, ErrUnauthorized
	}
	d.recordLogin(ctx, actor.ID, actor.Role, activity.StatusSuccess)
	return actor, nil
}

// Login authenticates and issues a token bound to the actor's generation.
func (d *Directory) Login(ctx context.Context, email, password string) (string, time.Time, *Actor, error) {
	if d.tokens == nil {
		return "", time.Time{}, nil, errors.New("token issuance is not configured")
	}
	actor, err := d.Authenticate(ctx, email, password)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	token, exp, err := d.tokens.Issue(actor)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, exp, actor, nil
}

// ActorForToken resolves a bearer token to the current stored actor. Tokens
// of disabled actors or of an older generation are rejected.
func (d *Directory) ActorForToken(ctx context.Context, token string) (*Actor, error) {
	if d.tokens == nil {
		return nil, ErrUnauthorized
	}
	claims, err := d.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	actor, err := d.store.Actors(ctx).Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !actor.Active() || actor.Generation != claims.Generation {
		return nil, ErrUnauthorized
	}
	return actor, nil
}

func (d *Directory) recordLogin(ctx context.Context, userID string, role Role, status activity.Status) {
	d.record(ctx, activity.Entry{
		UserID:   userID,
		UserRole: string(role),
		Action:   activity.ActionLogin,
		Module:   "auth",
		Status:   status,
	})
}

func (d *Directory) record(ctx context.Context, e activity.Entry) {
	if d.activity == nil {
		return
	}
	if _, err := d.activity.Record(ctx, e); err != nil {
		obs.Logger().Warn("activity record failed", zap.String("action", e.Action), zap.Error(err))
	}
}
