package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrStoreUnavailable marks failures where the store could not give an answer.
var ErrStoreUnavailable = errors.New("store_unavailable")

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return "store unavailable: " + e.err.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}

// WrapUnavailable tags err so that errors.Is(err, ErrStoreUnavailable) holds.
// The original error remains reachable through errors.Is and errors.As.
func WrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &unavailableError{err: err}
}

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if PGErrorCode(err) == "23505" {
		return true
	}

	msg := err.Error()
	// PostgreSQL (23505)
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL (1062)
	if strings.Contains(msg, "Error 1062") {
		return true
	}
	// SQLite (2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// PGErrorCode returns the SQLSTATE of a postgres error, or "" for anything else.
func PGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ClassifyError maps store errors onto low-cardinality reasons for logs and metrics.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "deadline_exceeded"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found"
	case IsDuplicateKeyErr(err):
		return "unique_violation"
	case sqliteBusy(err):
		return "busy"
	}
	switch PGErrorCode(err) {
	case "55P03":
		return "lock_timeout"
	case "40001":
		return "serialization_failure"
	case "40P01":
		return "deadlock"
	case "":
		return "unknown"
	default:
		return "db"
	}
}


// IsRetryable reports whether err is a conflict the store resolves by
// aborting one transaction, so running the transaction again can succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch PGErrorCode(err) {
	case "40001", "40P01":
		return true
	}
	if sqliteBusy(err) {
		return true
	}
	msg := err.Error()
	// MySQL deadlock (1213) and lock wait timeout (1205)
	return strings.Contains(msg, "Error 1213") || strings.Contains(msg, "Error 1205")
}

const (
	sqliteBusyCode   = 5
	sqliteLockedCode = 6
)

func sqliteBusy(err error) bool {
	var coded interface{ Code() int }
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code() & 0xff {
	case sqliteBusyCode, sqliteLockedCode:
		return true
	default:
		return false
	}
}
