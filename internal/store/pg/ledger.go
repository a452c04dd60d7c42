package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/audit"
)

// AuditStore is insert-only: appends never rewrite an existing row, so
// concurrent writers cannot overwrite one another.
type AuditStore struct {
	db *sql.DB
}

var _ audit.LinkedAppender = (*AuditStore)(nil)

// auditChainLock is the advisory lock key serializing chained appends.
const auditChainLock int64 = 0x62676c6564676572

const insertAuditEntry = `
	insert into audit_entries (id, actor_id, actor_role, action, resource, details, occurred_at, prev_hash, hash)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const selectLastAuditEntry = `
	select id, actor_id, actor_role, action, resource, details, occurred_at, prev_hash, hash
	from audit_entries
	order by seq desc
	limit 1
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e *audit.Entry) error {
	_, err := db.ExecContext(ctx, insertAuditEntry,
		e.ID, nullIfEmpty(e.ActorID), e.ActorRole, e.Action, e.Resource, e.Details, e.OccurredAt, nullIfEmpty(e.PrevHash), nullIfEmpty(e.Hash))
	return err
}

func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	return insertEntry(ctx, s.db, e)
}

// AppendLinked reads the tail and inserts the linked entry while holding a
// transaction-scoped advisory lock, so every api instance sharing the
// database extends the same chain.
func (s *AuditStore) AppendLinked(ctx context.Context, link func(last audit.Entry, ok bool) *audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, auditChainLock); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}
	last, err := scanEntry(tx.QueryRowContext(ctx, selectLastAuditEntry))
	ok := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := insertEntry(ctx, tx, link(last, ok)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		where = append(where, fmt.Sprintf("(action ilike %[1]s or resource ilike %[1]s or actor_role ilike %[1]s or details ilike %[1]s)", p))
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "occurred_at <= "+arg(f.Until))
	}

	query := `select id, actor_id, actor_role, action, resource, details, occurred_at, prev_hash, hash from audit_entries`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	if f.Ascending {
		query += " order by occurred_at asc, id asc"
	} else {
		query += " order by occurred_at desc, id desc"
	}
	if f.Limit > 0 {
		query += " limit " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *AuditStore) Last(ctx context.Context) (audit.Entry, bool, error) {
	if s.db == nil {
		return audit.Entry{}, false, errNoDB
	}
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectLastAuditEntry))
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, false, nil
	}
	if err != nil {
		return audit.Entry{}, false, err
	}
	return e, true, nil
}

func scanEntry(row scanner) (audit.Entry, error) {
	var (
		e                       audit.Entry
		actorID, prevHash, hash sql.NullString
	)
	if err := row.Scan(&e.ID, &actorID, &e.ActorRole, &e.Action, &e.Resource, &e.Details, &e.OccurredAt, &prevHash, &hash); err != nil {
		return audit.Entry{}, err
	}
	e.ActorID = actorID.String
	e.PrevHash = prevHash.String
	e.Hash = hash.String
	e.OccurredAt = e.OccurredAt.UTC()
	return e, nil
}

// ActivityStore persists routine activity rows.
type ActivityStore struct {
	db *sql.DB
}

func (s *ActivityStore) Append(ctx context.Context, e *activity.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into activity_entries (id, user_id, user_role, action, module, ref_id, status, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.UserID, e.UserRole, e.Action, e.Module, nullIfEmpty(e.RefID), string(e.Status), e.OccurredAt)
	return err
}

func (s *ActivityStore) Query(ctx context.Context, f activity.Filter) ([]activity.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.Action != "" {
		where = append(where, "lower(action) = lower("+arg(f.Action)+")")
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.Since))
	}
	query := `select id, user_id, user_role, action, module, ref_id, status, occurred_at from activity_entries`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by occurred_at desc, id desc"
	if f.Limit > 0 {
		query += " limit " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var (
			e      activity.Entry
			refID  sql.NullString
			status string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.UserRole, &e.Action, &e.Module, &refID, &status, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.RefID = refID.String
		e.Status = activity.Status(status)
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
