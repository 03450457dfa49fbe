// Package repodb records committed repository snapshots: which repomd,
// repodata and RPM objects exist, where they live in the content store, and
// which universe they were seen in.
package repodb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gorp/gorp/v3"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps a gorp.DbMap bound to one of the supported dialects.
type DB struct {
	*gorp.DbMap
	driver string
}

// Open connects to the database. For sqlite3 the dsn is a file path (or any
// go-sqlite3 DSN); for postgres a lib/pq connection string or URL.
func Open(driver, dsn string) (*DB, error) {
	var dialect gorp.Dialect
	switch driver {
	case DriverSQLite:
		dialect = gorp.SqliteDialect{}
	case DriverPostgres:
		dialect = gorp.PostgresDialect{}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if driver == DriverSQLite && !strings.Contains(dsn, "_busy_timeout") {
		// Dedup reads run concurrently with each other; make them wait on locks instead of failing.
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000"
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect %s database: %w", driver, err)
	}
	db := &DB{
		DbMap:  &gorp.DbMap{Db: sqlDB, Dialect: dialect},
		driver: driver,
	}
	initModels(db.DbMap)
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.Db.Close()
}

// EnsureSchema creates missing tables and indexes. Safe to call repeatedly.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := db.CreateTablesIfNotExists(); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	for _, stmt := range indexStatements {
		if _, err := db.WithContext(ctx).Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS rpm_universe_nevra ON rpm (universe, nevra)`,
	`CREATE INDEX IF NOT EXISTS repomd_universe_repo ON repomd (universe, repo)`,
}

// rebind rewrites "?" placeholders into "$n" for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insideTransaction runs action in a transaction that is rolled back unless action succeeds.
func (db *DB) insideTransaction(ctx context.Context, action func(gorp.SqlExecutor) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
	}()

	if err := action(tx.WithContext(ctx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
