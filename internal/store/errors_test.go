package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint bool
		data       bool
		retryable  bool
	}{
		{"nil", nil, false, false, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true, false, false},
		{"numeric overflow", &pgconn.PgError{Code: "22003"}, false, true, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, false, false, true},
		{"deadlock wrapped", eris.Wrap(&pgconn.PgError{Code: "40P01"}, "postgres: upsert"), false, false, true},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, false, false, true},
		{"syntax", &pgconn.PgError{Code: "42601"}, false, false, false},
		{"sqlite busy text", errors.New("database is locked (5) (SQLITE_BUSY)"), false, false, true},
		{"sqlite check text", errors.New("CHECK constraint failed: dnm_registry"), true, false, false},
		{"plain", errors.New("connection refused"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.constraint, IsConstraintViolation(tt.err))
			assert.Equal(t, tt.data, IsDataException(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
