package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrColumnMissing is returned when the query referenced a column the
	// store's schema does not have.
	ErrColumnMissing = errors.New("column does not exist")

	// ErrUnavailable is returned for timeouts, broken connections and
	// anything not otherwise classified.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when the requested order or user does not exist.
	ErrNotFound = errors.New("record not found")
)

// =============================================================================
// Structured Error Type
// =============================================================================

// Error wraps a driver error with the operation and its classification.
// errors.Is matches both the Kind sentinel and the driver error.
type Error struct {
	// Op is the operation that failed (e.g., "ListPaidOrders").
	Op string

	// Kind is one of the sentinel errors above.
	Kind error

	// Err is the underlying driver error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Kind)
}

// Unwrap returns both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound builds an ErrNotFound error for op.
func NotFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound}
}

// =============================================================================
// Classification
// =============================================================================

// Postgres undefined_column and MySQL ER_BAD_FIELD_ERROR.
const (
	pgUndefinedColumn = "42703"
	mysqlBadField     = 1054
)

// Classify wraps err as an *Error. Already-classified errors pass through.
// Only errors that definitely mean "this column does not exist" are
// classified ErrColumnMissing; anything unrecognised is ErrUnavailable so
// that callers retry rather than give up on a user's entitlement.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return err
	}

	return &Error{Op: op, Kind: kindOf(err), Err: err}
}

func kindOf(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if IsColumnMissing(err) {
		return ErrColumnMissing
	}
	return ErrUnavailable
}

// IsColumnMissing recognises undefined-column errors from every driver the
// stores are deployed on.
func IsColumnMissing(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedColumn
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUndefinedColumn
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlBadField
	}

	// SQLite has no structured code for this case.
	msg := err.Error()
	return strings.Contains(msg, "no such column") || strings.Contains(msg, "has no column named")
}
