package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var actorCols = []string{"id", "name", "email", "role", "status", "password_hash", "generation", "created_at", "updated_at"}

func TestActorCreateDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into actors").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Actors(context.Background()).Create(context.Background(), &auth.Actor{
		Name: "Dana", Email: "dana@shop.test", Role: auth.RoleTeamMember, Status: auth.StatusActive,
	})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestActorFindAndMissing(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select .* from actors where lower\\(email\\) = lower\\(\\$1\\)").
		WithArgs("dana@shop.test").
		WillReturnRows(sqlmock.NewRows(actorCols).AddRow("a1", "Dana", "Dana@Shop.test", "TEAM_MEMBER", "active", "hash", int64(2), now, now))
	mock.ExpectQuery("select .* from actors where id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	a, err := store.Actors(ctx).FindByEmail(ctx, " dana@shop.test ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if a.Role != auth.RoleTeamMember || a.Generation != 2 || !a.Active() {
		t.Fatalf("unexpected actor %+v", a)
	}
	if _, err := store.Actors(ctx).Find(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGrantSetFlagUpdatesSingleColumn(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	grantCols := []string{"actor_id", "module", "read", "write", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("select actor_id, module, read, write, updated_at.*from permission_grants.*for update").
		WithArgs("a1", "billing").
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("a1", "billing", true, false, at.Add(-time.Hour)))
	mock.ExpectQuery("insert into permission_grants.*set write = excluded.write").
		WithArgs("a1", "billing", false, true, at).
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("a1", "billing", true, true, at))
	mock.ExpectCommit()

	ctx := context.Background()
	prev, next, err := store.Grants(ctx).SetFlag(ctx, "a1", auth.ModuleBilling, auth.AccessWrite, true, at)
	if err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if !prev.Read || prev.Write {
		t.Fatalf("unexpected prev %+v", prev)
	}
	if !next.Read || !next.Write || !next.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected next %+v", next)
	}
}

func TestGrantSetFlagNewRow(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	grantCols := []string{"actor_id", "module", "read", "write", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("from permission_grants.*for update").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("insert into permission_grants.*set read = excluded.read").
		WithArgs("a1", "repairs", true, false, at).
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("a1", "repairs", true, false, at))
	mock.ExpectCommit()

	ctx := context.Background()
	prev, next, err := store.Grants(ctx).SetFlag(ctx, "a1", auth.ModuleRepairs, auth.AccessRead, true, at)
	if err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if prev.Read || prev.Write || prev.Module != auth.ModuleRepairs {
		t.Fatalf("expected empty prev, got %+v", prev)
	}
	if !next.Read {
		t.Fatalf("expected read granted, got %+v", next)
	}
}

func TestGrantSeedSkipsExisting(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	grantCols := []string{"actor_id", "module", "read", "write", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("insert into permission_grants.*do nothing").
		WithArgs("a1", "repairs", true, false, at).
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("a1", "repairs", true, false, at))
	mock.ExpectQuery("insert into permission_grants.*do nothing").
		WithArgs("a1", "billing", true, false, at).
		WillReturnRows(sqlmock.NewRows(grantCols))
	mock.ExpectCommit()

	ctx := context.Background()
	inserted, err := store.Grants(ctx).Seed(ctx, []auth.Grant{
		{ActorID: "a1", Module: auth.ModuleRepairs, Read: true, UpdatedAt: at},
		{ActorID: "a1", Module: auth.ModuleBilling, Read: true, UpdatedAt: at},
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(inserted) != 1 || inserted[0].Module != auth.ModuleRepairs {
		t.Fatalf("expected only repairs inserted, got %+v", inserted)
	}
}

func TestFlagRestoreDeletesNewKey(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("delete from feature_flags where key = \\$1").
		WithArgs("beta_ui").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := store.Flags(ctx).Restore(ctx, "beta_ui", auth.FeatureFlag{}, false); err != nil {
		t.Fatalf("Restore: %v", err)
	}
}

func TestAuditQueryFilters(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	since := at.Add(-24 * time.Hour)
	cols := []string{"id", "actor_id", "actor_role", "action", "resource", "details", "occurred_at", "prev_hash", "hash"}

	mock.ExpectQuery("from audit_entries where \\(action ilike \\$1 or .*\\) and occurred_at >= \\$2 order by occurred_at desc, id desc limit \\$3").
		WithArgs("%100\\%%", since, 10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("01J", nil, "SYSTEM", "PRICE_UPDATE", "billing", "Raised to 100%", at, nil, nil))

	entries, err := store.Audit().Query(context.Background(), audit.Filter{Query: "100%", Since: since, Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].ActorID != "" || entries[0].Action != "PRICE_UPDATE" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestLedgerWrapsStoreFailure(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into audit_entries").WillReturnError(errors.New("connection reset"))

	ledger, err := audit.NewLedger(store.Audit())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	_, err = ledger.Append(context.Background(), audit.Entry{ActorRole: "OWNER_ADMIN", Action: "PERMISSION_GRANTED", Resource: "staff"})
	if !errors.Is(err, audit.ErrLedgerWrite) {
		t.Fatalf("expected ErrLedgerWrite, got %v", err)
	}
}

func TestChainedAppendHoldsAdvisoryLock(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "actor_id", "actor_role", "action", "resource", "details", "occurred_at", "prev_hash", "hash"}

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock\\(\\$1\\)").
		WithArgs(auditChainLock).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from audit_entries.*order by seq desc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("01PREV", "a1", "OWNER_ADMIN", "PERMISSION_GRANTED", "staff", "", at, nil, "tail-hash"))
	mock.ExpectExec("insert into audit_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "tail-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ledger, err := audit.NewLedger(store.Audit(), audit.WithChain(true))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	e, err := ledger.Append(context.Background(), audit.Entry{ActorRole: "OWNER_ADMIN", Action: "PERMISSION_REVOKED", Resource: "staff", OccurredAt: at})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.PrevHash != "tail-hash" || e.Hash == "" || !e.OccurredAt.After(at) {
		t.Fatalf("entry not linked to tail: %+v", e)
	}
}

func TestChainedAppendLockFailureRollsBack(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	ledger, _ := audit.NewLedger(store.Audit(), audit.WithChain(true))
	_, err := ledger.Append(context.Background(), audit.Entry{ActorRole: "OWNER_ADMIN", Action: "PERMISSION_GRANTED", Resource: "staff"})
	if !errors.Is(err, audit.ErrLedgerWrite) {
		t.Fatalf("expected ErrLedgerWrite, got %v", err)
	}
}

func TestAuditLastEmpty(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from audit_entries.*order by seq desc").WillReturnError(sql.ErrNoRows)

	_, ok, err := store.Audit().Last(context.Background())
	if err != nil || ok {
		t.Fatalf("expected empty ledger, got ok=%v err=%v", ok, err)
	}
}

func TestActivityQuery(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "user_role", "action", "module", "ref_id", "status", "occurred_at"}

	mock.ExpectQuery("from activity_entries where user_id = \\$1 and lower\\(action\\) = lower\\(\\$2\\) order by occurred_at desc, id desc").
		WithArgs("u1", "login").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("01J", "u1", "TEAM_MEMBER", "Login", "auth", nil, "Failed", at))

	entries, err := store.Activity().Query(context.Background(), activity.Filter{UserID: "u1", Action: "login"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != activity.StatusFailed || entries[0].RefID != "" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	for _, name := range []string{"0001_init.up.sql", "0001_init.down.sql", "0002_audit_activity.up.sql"} {
		if _, err := Migrations().Open(name); err != nil {
			t.Fatalf("missing migration %s: %v", name, err)
		}
	}
}
