package db

import (
	"context"
	"database/sql"
	"time"
)

// Database defines the interface for relational database access.
// Implementations manage their own connection pool and adapt the
// standard library types so repositories stay driver-agnostic.
type Database interface {
	// Query executes a query that returns rows
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// QueryRow executes a query that returns at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) Row

	// Exec executes a query that doesn't return rows
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Transaction executes a function within a database transaction.
	// The transaction is rolled back if fn returns an error, committed otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a new transaction with the given options
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	// Prepare creates a prepared statement for later queries or executions
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Ping verifies a connection to the database is still alive
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error

	// Stats returns database statistics
	Stats() Stats

	// GetDB returns the underlying database instance (driver-specific)
	GetDB() interface{}
}

// Transaction defines operations available within a database transaction
type Transaction interface {
	// Query executes a query within the transaction
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// QueryRow executes a query that returns at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) Row

	// Exec executes a query within the transaction
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Prepare creates a prepared statement within the transaction
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}

// Rows is the result of a query that returns multiple rows
type Rows interface {
	// Next prepares the next result row for reading with Scan
	Next() bool

	// Scan copies the columns from the current row into the values
	Scan(dest ...interface{}) error

	// Close closes the Rows, preventing further enumeration
	Close() error

	// Err returns the error, if any, encountered during iteration
	Err() error

	// Columns returns the column names
	Columns() ([]string, error)

	// ColumnTypes returns column type information
	ColumnTypes() ([]ColumnType, error)

	// NextResultSet advances to the next result set
	NextResultSet() bool
}

// Row is the result of a query that returns at most one row
type Row interface {
	// Scan copies the columns from the matched row into the values
	Scan(dest ...interface{}) error
}

// Result summarizes an executed SQL command
type Result interface {
	// LastInsertId returns the integer generated by the database
	LastInsertId() (int64, error)

	// RowsAffected returns the number of rows affected by the command
	RowsAffected() (int64, error)
}

// Stmt is a prepared statement
type Stmt interface {
	// Exec executes a prepared statement
	Exec(ctx context.Context, args ...interface{}) (Result, error)

	// Query executes a prepared query statement
	Query(ctx context.Context, args ...interface{}) (Rows, error)

	// QueryRow executes a prepared query that returns at most one row
	QueryRow(ctx context.Context, args ...interface{}) Row

	// Close closes the statement
	Close() error
}

// ColumnType describes the type of a single column
type ColumnType interface {
	// Name returns the column name
	Name() string

	// DatabaseTypeName returns the database system type name
	DatabaseTypeName() string

	// Length returns the column length, if applicable
	Length() (int64, bool)

	// Nullable returns whether the column may be null
	Nullable() (bool, bool)

	// DecimalSize returns the scale and precision, if applicable
	DecimalSize() (int64, int64, bool)

	// ScanType returns a Go type suitable for scanning
	ScanType() interface{}
}

// IsolationLevel is the transaction isolation level
type IsolationLevel int

// Transaction isolation levels, mirroring database/sql
const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelWriteCommitted
	LevelRepeatableRead
	LevelSnapshot
	LevelSerializable
	LevelLinearizable
)

// TxOptions holds transaction options
type TxOptions struct {
	// Isolation is the transaction isolation level
	Isolation IsolationLevel

	// ReadOnly marks the transaction as read-only
	ReadOnly bool
}

// ConvertTxOptions converts TxOptions to database/sql TxOptions
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{
		Isolation: sql.IsolationLevel(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	}
}

// Stats holds database connection pool statistics
type Stats struct {
	MaxOpenConnections int // Maximum number of open connections

	// Pool status
	OpenConnections int // The number of established connections
	InUse           int // The number of connections currently in use
	Idle            int // The number of idle connections

	// Counters
	WaitCount         int64         // The total number of connections waited for
	WaitDuration      time.Duration // The total time blocked waiting for a new connection
	MaxIdleClosed     int64         // The total number of connections closed due to SetMaxIdleConns
	MaxIdleTimeClosed int64         // The total number of connections closed due to SetConnMaxIdleTime
	MaxLifetimeClosed int64         // The total number of connections closed due to SetConnMaxLifetime
}

// ConvertSQLStats converts database/sql DBStats to Stats
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
		MaxIdleClosed:      s.MaxIdleClosed,
		MaxIdleTimeClosed:  s.MaxIdleTimeClosed,
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
	}
}
