package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/storage/sqltest"
)

const recordVersionSQL = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`

func TestMigrateAppliesPendingFiles(t *testing.T) {
	db := sqltest.NewDB(t,
		sqltest.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(32) NOT NULL PRIMARY KEY, applied_at BIGINT NOT NULL)`, sqltest.Result{}),
		sqltest.Query(`SELECT version FROM schema_migrations`, sqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		sqltest.Begin(),
		sqltest.Exec("", sqltest.Result{}),
		sqltest.Exec(recordVersionSQL, sqltest.Result{Affected: 1}),
		sqltest.Commit(),
	)

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	db := sqltest.NewDB(t,
		sqltest.Exec("", sqltest.Result{}),
		sqltest.Query(`SELECT version FROM schema_migrations`, sqltest.Rows{Columns: []string{"version"}}),
		sqltest.Begin(),
		sqltest.Exec("", sqltest.Result{}).WithError(errors.New("syntax error near INDEX")),
		sqltest.Rollback(),
	)

	err := Migrate(context.Background(), db)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "  "}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestConfigurePoolDefaults(t *testing.T) {
	db := sqltest.NewDB(t)
	configurePool(db, Config{MaxOpenConns: 3, ConnMaxIdleTime: time.Minute})
	if got := db.Stats().MaxOpenConnections; got != 3 {
		t.Fatalf("expected max open conns 3, got %d", got)
	}
}
