package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"benchguard.io/internal/auth"
	"benchguard.io/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

const actorColumns = `id, name, email, role, status, password_hash, generation, created_at, updated_at`

// Actor store --------------------------------------------------------------
type actorStore struct{ db *sql.DB }

func (s actorStore) Create(ctx context.Context, a *auth.Actor) error {
	if s.db == nil {
		return errNoDB
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into actors (`+actorColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Name, a.Email, string(a.Role), string(a.Status), a.PasswordHash, a.Generation, a.CreatedAt, a.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (s actorStore) Find(ctx context.Context, id string) (*auth.Actor, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+actorColumns+` from actors where id = $1`, id)
	return scanActor(row)
}

func (s actorStore) FindByEmail(ctx context.Context, email string) (*auth.Actor, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+actorColumns+` from actors where lower(email) = lower($1)`, strings.TrimSpace(email))
	return scanActor(row)
}

func (s actorStore) List(ctx context.Context) ([]*auth.Actor, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+actorColumns+` from actors order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s actorStore) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from actors`).Scan(&n)
	return n, err
}

func (s actorStore) SetStatus(ctx context.Context, id string, status auth.ActorStatus, at time.Time) (*auth.Actor, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update actors set status = $2, updated_at = $3
		where id = $1
		returning `+actorColumns, id, string(status), at)
	return scanActor(row)
}

func (s actorStore) BumpGeneration(ctx context.Context, id string, at time.Time) (*auth.Actor, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update actors set generation = generation + 1, updated_at = $2
		where id = $1
		returning `+actorColumns, id, at)
	return scanActor(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActor(row scanner) (*auth.Actor, error) {
	var (
		a      auth.Actor
		role   string
		status string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &role, &status, &a.PasswordHash, &a.Generation, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = auth.Role(role)
	a.Status = auth.ActorStatus(status)
	return &a, nil
}

// Grant store --------------------------------------------------------------
type grantStore struct{ db *sql.DB }

func (s grantStore) ForActor(ctx context.Context, actorID string) ([]auth.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select actor_id, module, read, write, updated_at
		from permission_grants
		where actor_id = $1
		order by module
	`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s grantStore) Find(ctx context.Context, actorID string, module auth.Module) (auth.Grant, bool, error) {
	if s.db == nil {
		return auth.Grant{}, false, errNoDB
	}
	g, err := scanGrant(s.db.QueryRowContext(ctx, `
		select actor_id, module, read, write, updated_at
		from permission_grants
		where actor_id = $1 and module = $2
	`, actorID, string(module)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Grant{}, false, nil
	}
	if err != nil {
		return auth.Grant{}, false, err
	}
	return g, true, nil
}

// SetFlag locks the row, then upserts only the column for access so a
// concurrent change to the other kind is never overwritten.
func (s grantStore) SetFlag(ctx context.Context, actorID string, module auth.Module, access auth.Access, value bool, at time.Time) (auth.Grant, auth.Grant, error) {
	if s.db == nil {
		return auth.Grant{}, auth.Grant{}, errNoDB
	}
	column, err := accessColumn(access)
	if err != nil {
		return auth.Grant{}, auth.Grant{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Grant{}, auth.Grant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanGrant(tx.QueryRowContext(ctx, `
		select actor_id, module, read, write, updated_at
		from permission_grants
		where actor_id = $1 and module = $2
		for update
	`, actorID, string(module)))
	if errors.Is(err, sql.ErrNoRows) {
		prev = auth.Grant{ActorID: actorID, Module: module}
	} else if err != nil {
		return auth.Grant{}, auth.Grant{}, err
	}

	var read, write bool
	if access == auth.AccessRead {
		read = value
	} else {
		write = value
	}
	next, err := scanGrant(tx.QueryRowContext(ctx, fmt.Sprintf(`
		insert into permission_grants (actor_id, module, read, write, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (actor_id, module) do update
		set %[1]s = excluded.%[1]s, updated_at = excluded.updated_at
		returning actor_id, module, read, write, updated_at
	`, column), actorID, string(module), read, write, at))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.Grant{}, auth.Grant{}, auth.ErrNotFound
		}
		return auth.Grant{}, auth.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Grant{}, auth.Grant{}, err
	}
	return prev, next, nil
}

func (s grantStore) Seed(ctx context.Context, grants []auth.Grant) ([]auth.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var inserted []auth.Grant
	for _, g := range grants {
		row, err := scanGrant(tx.QueryRowContext(ctx, `
			insert into permission_grants (actor_id, module, read, write, updated_at)
			values ($1, $2, $3, $4, $5)
			on conflict (actor_id, module) do nothing
			returning actor_id, module, read, write, updated_at
		`, g.ActorID, string(g.Module), g.Read, g.Write, g.UpdatedAt))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, row)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s grantStore) Remove(ctx context.Context, actorID string, modules []auth.Module) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, mod := range modules {
		if _, err := tx.ExecContext(ctx, `delete from permission_grants where actor_id = $1 and module = $2`, actorID, string(mod)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func accessColumn(a auth.Access) (string, error) {
	switch a {
	case auth.AccessRead:
		return "read", nil
	case auth.AccessWrite:
		return "write", nil
	}
	return "", fmt.Errorf("%w: unknown access %q", auth.ErrInvalidInput, a)
}

func scanGrant(row scanner) (auth.Grant, error) {
	var (
		g      auth.Grant
		module string
	)
	if err := row.Scan(&g.ActorID, &module, &g.Read, &g.Write, &g.UpdatedAt); err != nil {
		return auth.Grant{}, err
	}
	g.Module = auth.Module(module)
	return g, nil
}

// Flag store ---------------------------------------------------------------
type flagStore struct{ db *sql.DB }

func (s flagStore) List(ctx context.Context) ([]auth.FeatureFlag, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select key, enabled, updated_at from feature_flags order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []auth.FeatureFlag
	for rows.Next() {
		var f auth.FeatureFlag
		if err := rows.Scan(&f.Key, &f.Enabled, &f.UpdatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return flags, nil
}

func (s flagStore) Set(ctx context.Context, key string, enabled bool, at time.Time) (auth.FeatureFlag, bool, error) {
	if s.db == nil {
		return auth.FeatureFlag{}, false, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.FeatureFlag{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var prev auth.FeatureFlag
	existed := true
	err = tx.QueryRowContext(ctx, `
		select key, enabled, updated_at from feature_flags where key = $1 for update
	`, key).Scan(&prev.Key, &prev.Enabled, &prev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return auth.FeatureFlag{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into feature_flags (key, enabled, updated_at)
		values ($1, $2, $3)
		on conflict (key) do update
		set enabled = excluded.enabled, updated_at = excluded.updated_at
	`, key, enabled, at); err != nil {
		return auth.FeatureFlag{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return auth.FeatureFlag{}, false, err
	}
	return prev, existed, nil
}

func (s flagStore) Restore(ctx context.Context, key string, prev auth.FeatureFlag, existed bool) error {
	if s.db == nil {
		return errNoDB
	}
	if !existed {
		_, err := s.db.ExecContext(ctx, `delete from feature_flags where key = $1`, key)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		update feature_flags set enabled = $2, updated_at = $3 where key = $1
	`, key, prev.Enabled, prev.UpdatedAt)
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
