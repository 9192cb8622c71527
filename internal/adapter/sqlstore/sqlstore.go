// Package sqlstore is the relational backend adapter: one table with a
// schema that evolves by ALTER TABLE ADD COLUMN as new SQL-placed fields
// are discovered.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"driftline/internal/detect"
	"driftline/internal/pipeline"
)

const tableName = "ingested_records"

// mysqlDuplicateEntry is error 1062, ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Adapter is a database/sql-backed relational adapter over MySQL. A
// single connection is used throughout, per the single-mutual-exclusion
// concurrency model the rest of the core follows.
type Adapter struct {
	db      *sql.DB
	mu      sync.Mutex
	columns map[string]bool
}

// Open connects to dsn, ensures the base schema, and returns a ready
// Adapter. It caps the pool at one open connection, matching spec.md §5's
// "single, serialized" relational connection.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	a := &Adapter{db: db, columns: make(map[string]bool)}
	if err := a.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) ensureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			username TEXT NOT NULL,
			sys_ingested_at VARCHAR(64) NOT NULL,
			t_stamp TEXT,
			UNIQUE KEY uniq_sys_ingested_at (sys_ingested_at)
		)
	`)
	if err != nil {
		return fmt.Errorf("sqlstore: create table: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
	`, tableName)
	if err != nil {
		return fmt.Errorf("sqlstore: introspect columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col sql.NullString
		if err := rows.Scan(&col); err != nil {
			return fmt.Errorf("sqlstore: scan column: %w", err)
		}
		a.columns[col.String] = true
	}
	return rows.Err()
}

// EnsureColumn adds name to the table if it does not already exist,
// typed per the detected tag, and best-effort creates a unique index
// when requested and the column isn't one of the fixed mandatory ones.
func (a *Adapter) EnsureColumn(name string, tag detect.Tag, unique bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.columns[name] {
		return nil
	}
	if !identRE.MatchString(name) {
		return fmt.Errorf("sqlstore: refusing unsafe column name %q", name)
	}

	sqlType := detect.SQLType(tag)
	_, err := a.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, quoteIdent(name), sqlType))
	if err != nil {
		return fmt.Errorf("sqlstore: add column %s: %w", name, err)
	}
	a.columns[name] = true

	if unique && name != "username" && name != "t_stamp" {
		idxName := "idx_" + name
		idxCol := quoteIdent(name)
		if sqlType == "TEXT" {
			// MySQL can only index a TEXT column through a key prefix, and
			// rejects a prefix on any other column type.
			idxCol += "(191)"
		}
		if _, err := a.db.Exec(fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", quoteIdent(idxName), tableName, idxCol)); err != nil {
			// best-effort: existing duplicate values make this fail, which
			// is expected and non-fatal.
			return nil
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Insert writes record as a single row, using the union of columns
// present. Missing mandatory columns are not synthesized here; the
// pipeline supplies sys_ingested_at and t_stamp on every record, and
// username only when the incoming record carries one.
func (a *Adapter) Insert(ctx context.Context, record map[string]any) error {
	if len(record) == 0 {
		return nil
	}

	columns := make([]string, 0, len(record))
	placeholders := make([]string, 0, len(record))
	values := make([]any, 0, len(record))
	for col, val := range record {
		if !identRE.MatchString(col) {
			continue
		}
		columns = append(columns, quoteIdent(col))
		placeholders = append(placeholders, "?")
		values = append(values, val)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	_, err := a.db.ExecContext(ctx, query, values...)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return &pipeline.DuplicateKeyError{Backend: "sql", Key: "sys_ingested_at", Err: err}
		}
		return fmt.Errorf("sqlstore: insert: %w", err)
	}
	return nil
}

func isDuplicateKeyErr(err error) bool {
	// go-sql-driver/mysql.MySQLError carries the server error number; we
	// avoid importing the driver's error type directly here and instead
	// match on its well-known string form to keep this adapter resilient
	// to minor driver version differences.
	return strings.Contains(err.Error(), fmt.Sprintf("Error %d", mysqlDuplicateEntry)) ||
		strings.Contains(err.Error(), "Duplicate entry")
}

// Close closes the underlying connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}
