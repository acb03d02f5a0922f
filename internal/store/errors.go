package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func sqliteCode(err error) int {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() & 0xff
	}
	return 0
}

// IsConstraintViolation reports whether err is an integrity constraint
// failure (SQLSTATE class 23 or SQLITE_CONSTRAINT).
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if code := pgCode(err); code != "" {
		return strings.HasPrefix(code, "23")
	}
	if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23") || strings.Contains(msg, "constraint failed")
}

// IsDataException reports whether err is a value the column cannot hold,
// such as numeric overflow (SQLSTATE class 22).
func IsDataException(err error) bool {
	if err == nil {
		return false
	}
	if code := pgCode(err); code != "" {
		return strings.HasPrefix(code, "22")
	}
	return strings.Contains(err.Error(), "SQLSTATE 22")
}

// IsRetryable reports whether err is a serialization failure, deadlock or
// busy database that a fresh transaction may clear.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode(err) {
	case "40001", "40P01", "55P03":
		return true
	case "":
	default:
		return false
	}
	switch sqliteCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	msg := err.Error()
	for _, p := range []string{"SQLSTATE 40001", "SQLSTATE 40P01", "database is locked", "SQLITE_BUSY"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
