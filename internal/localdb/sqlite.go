package localdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"clinic-sync-service/internal/logger"
)

// Database wraps the embedded SQLite store. The whole application shares a
// single connection; SQLite serializes writers anyway and a single handle
// keeps transactions from deadlocking against our own pool.
type Database struct {
	DB *sql.DB
}

func Open(path string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping local database: %w", err)
	}

	logger.Log.Info("Opened local database", zap.String("path", path))

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecResult mirrors the result of a single write statement.
type ExecResult struct {
	Changes      int64
	LastInsertID int64
}

// Query runs a read statement and returns every row as a column → value map.
func (d *Database) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// QueryOne runs a read statement and returns the first row, or nil if the
// result set is empty.
func (d *Database) QueryOne(ctx context.Context, query string, args ...interface{}) (map[string]interface{}, error) {
	results, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Execute runs a single write statement.
func (d *Database) Execute(ctx context.Context, query string, args ...interface{}) (ExecResult, error) {
	res, err := d.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return ExecResult{}, err
	}

	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return ExecResult{Changes: changes, LastInsertID: lastID}, nil
}

// Statement is one write inside a Transaction call.
type Statement struct {
	SQL  string
	Args []interface{}
}

// TxResult reports how many statements a transaction committed.
type TxResult struct {
	Count int
}

// Transaction runs every statement inside one transaction, all-or-nothing.
func (d *Database) Transaction(ctx context.Context, stmts []Statement) (TxResult, error) {
	var count int
	err := d.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s.SQL, s.Args...); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{Count: count}, nil
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	return results, rows.Err()
}
