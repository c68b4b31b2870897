package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes mapped to repository semantics.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	classConnectionException = "08"
	classResourcesExhausted  = "53"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// ErrStaleVersion is returned when an optimistic update matched no row.
var ErrStaleVersion = errors.New("postgres: stale row version")

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a uniqueness or concurrency conflict.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient database outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// WrapError annotates pgx errors with repository semantics. Context errors are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	e := &Error{op: op, err: err}
	var pgErr *pgconn.PgError
	var netErr net.Error
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		e.notFound = true
	case errors.Is(err, ErrStaleVersion):
		e.conflict = true
	case errors.As(err, &pgErr):
		switch {
		case pgErr.Code == codeUniqueViolation,
			pgErr.Code == codeSerializationFailure,
			pgErr.Code == codeDeadlockDetected,
			pgErr.Code == codeLockNotAvailable:
			e.conflict = true
		case pgErr.Code == codeForeignKeyViolation:
			e.notFound = true
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == classConnectionException || pgErr.Code[:2] == classResourcesExhausted),
			pgErr.Code == codeAdminShutdown,
			pgErr.Code == codeCannotConnectNow:
			e.unavailable = true
		}
	case pgconn.SafeToRetry(err), errors.As(err, &netErr):
		e.unavailable = true
	}
	return e
}

// IsUniqueViolation reports whether err is a unique constraint violation on constraint (any constraint when empty).
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
