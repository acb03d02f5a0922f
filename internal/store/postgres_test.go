package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresFromPool(mock), mock
}

func strPtr(s string) *string { return &s }

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS properties`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProperty_Created(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := make([]any, 0, len(propertyDataColumns)+1)
	args = append(args, "R100", "propertyradar")
	for range len(propertyDataColumns) - 2 {
		args = append(args, pgxmock.AnyArg())
	}
	args = append(args, pgxmock.AnyArg())

	mock.ExpectQuery(`(?s)^WITH archived AS \(\s*INSERT INTO property_history \(property_id, .*archived_at\)\s*SELECT property_id, .* FROM properties WHERE radar_id = \$1\s*\)\s*INSERT INTO properties .*ON CONFLICT \(radar_id\) DO UPDATE SET.*city = COALESCE\(excluded\.city, properties\.city\).*RETURNING property_id, \(xmax = 0\)`).
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"property_id", "inserted"}).AddRow(int64(7), true))

	id, created, err := s.UpsertProperty(context.Background(), &model.Property{
		RadarID:    "R100",
		ProviderID: "propertyradar",
		City:       strPtr("Austin"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProperty_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO properties`).
		WillReturnError(errors.New("connection reset"))

	_, _, err := s.UpsertProperty(context.Background(), &model.Property{RadarID: "R1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert property R1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProperty_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM properties WHERE radar_id = \$1 AND is_active`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetProperty(context.Background(), "missing", model.ActiveOnly)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LockLoans_ForUpdate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM loans WHERE property_id = \$1\s+ORDER BY is_active DESC, created_at ASC, loan_id ASC\s+FOR UPDATE`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"loan_id"}))

	loans, err := s.LockLoans(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, loans)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateLoans(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO loan_history .* FROM loans WHERE loan_id = ANY\(\$1\) AND is_active\s*\)\s*UPDATE loans SET is_active = FALSE, updated_at = \$2 WHERE loan_id = ANY\(\$1\)`).
		WithArgs([]int64{4, 5}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.DeactivateLoans(context.Background(), []int64{4, 5}))
	require.NoError(t, s.DeactivateLoans(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLoan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO loan_history .* FROM loans WHERE loan_id = \$1\s*\)\s*UPDATE loans SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLoan(context.Background(), &model.Loan{ID: 99})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLoanHistory_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT history_id, loan_id, .*archived_at FROM loan_history WHERE loan_id = \$1 ORDER BY history_id`).
		WithArgs(int64(3)).
		WillReturnError(errors.New("relation does not exist"))

	_, err := s.ListLoanHistory(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: loan history 3")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNextUnit_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)UPDATE ingestion_units\s+SET status = 'PROCESSING'.*WHERE status = 'PENDING' AND NOT is_parent\s+ORDER BY priority DESC, created_at ASC, unit_id ASC\s+LIMIT 1\s+FOR UPDATE SKIP LOCKED`).
		WithArgs("worker-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	u, err := s.ClaimNextUnit(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNextUnit_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE ingestion_units`).
		WillReturnError(errors.New("deadlock detected"))

	_, err := s.ClaimNextUnit(context.Background(), "worker-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: claim unit")
}

func TestPostgresStore_UpdateUnitProgress_NotProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE ingestion_units\s+SET properties_count = \$3.*WHERE unit_id = \$1 AND status = 'PROCESSING' AND claim_token = \$2`).
		WithArgs(int64(1), "tok", 10, 4, 3, 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claim := model.Claim{UnitID: 1, Token: "tok"}
	ok, err := s.UpdateUnitProgress(context.Background(), claim, model.UnitCounts{Total: 10, Processed: 4, Success: 3, Errors: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishUnit(t *testing.T) {
	counts := model.UnitCounts{Total: 3, Processed: 3, Success: 3}
	claim := model.Claim{UnitID: 5, Token: "tok"}

	t.Run("transitions", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`WHERE unit_id = \$1 AND status = 'PROCESSING' AND claim_token = \$2 AND claim_token <> ''`).
			WithArgs(int64(5), "tok", "COMPLETED", 3, 3, 3, 0, "", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := s.FinishUnit(context.Background(), claim, model.UnitCompleted, counts, "")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim lost", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`claim_token = \$2`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT 1 FROM ingestion_units WHERE unit_id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))

		ok, err := s.FinishUnit(context.Background(), claim, model.UnitCompleted, counts, "")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`claim_token = \$2`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT 1 FROM ingestion_units`).
			WillReturnError(pgx.ErrNoRows)

		_, err := s.FinishUnit(context.Background(), claim, model.UnitFailed, counts, "boom")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestPostgresStore_ResetUnit_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)SET status = 'PENDING'.*requeued_at = \$2.*WHERE unit_id = \$1 AND NOT is_parent`).
		WithArgs(int64(8), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ResetUnit(context.Background(), 8)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindStuckUnits_Query(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	pending := time.Now().Add(-time.Hour)
	processing := time.Now().Add(-3 * time.Hour)

	mock.ExpectQuery(`(?s)COALESCE\(requeued_at, created_at\) < \$1.*COALESCE\(requeued_at, created_at\) < \$2`).
		WithArgs(pending, processing).
		WillReturnRows(pgxmock.NewRows([]string{"unit_id"}))

	units, err := s.FindStuckUnits(context.Background(), pending, processing)
	require.NoError(t, err)
	assert.Empty(t, units)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendUnitLogs_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"unit_logs"}, unitLogCopyColumns).
		WillReturnResult(2)

	err := s.AppendUnitLogs(context.Background(), []model.UnitLog{
		{UnitID: 1, Level: model.LogError, RadarID: "R1", ErrorClass: "persistence", Message: "boom"},
		{UnitID: 1, Level: model.LogWarn, RadarID: "R2", Message: "bad date"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateDnm(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE dnm_registry SET is_active = FALSE, removed_by = \$2, removed_at = \$3\s+WHERE dnm_id = \$1 AND is_active`).
			WithArgs(int64(2), "ops", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := s.DeactivateDnm(context.Background(), 2, "ops")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already inactive", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`UPDATE dnm_registry`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT 1 FROM dnm_registry WHERE dnm_id = \$1`).
			WithArgs(int64(2)).
			WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))

		ok, err := s.DeactivateDnm(context.Background(), 2, "ops")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_CountActiveDnm_AnyIdentifier(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	loanID := int64(11)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dnm_registry WHERE is_active AND \(loan_id = \$1 OR radar_id = \$2\)`).
		WithArgs(int64(11), "R9").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	n, err := s.CountActiveDnm(context.Background(), model.Identifiers{LoanID: &loanID, RadarID: strPtr("R9")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountActiveDnm(context.Background(), model.Identifiers{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_InsertRecipients(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"campaign_recipients"}, recipientColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	gen := uuid.New()
	var inserted int64
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		inserted, err = tx.InsertRecipients(context.Background(), []model.CampaignRecipient{
			{CampaignID: 1, GenerationID: gen, PropertyID: 1, OwnerID: 1, RadarID: "R1"},
			{CampaignID: 1, GenerationID: gen, PropertyID: 2, OwnerID: 2, RadarID: "R2"},
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_RollbackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO owners`).
		WillReturnError(errors.New("violates foreign key constraint"))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.InsertOwner(context.Background(), &model.Owner{PropertyID: 404})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert owner")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := s.WithTx(context.Background(), func(Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Contains(t, err.Error(), "postgres: begin tx")
}

func TestPostgresStore_PurgeState_Order(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM property_owner_history`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM property_history`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(`DELETE FROM loan_history`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 6))
	mock.ExpectExec(`DELETE FROM campaign_recipients`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM loans`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM owners`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM properties WHERE state = \$1`).WithArgs("TX").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	c, err := s.PurgeState(context.Background(), "tx")
	require.NoError(t, err)
	assert.Equal(t, model.PurgeCounts{
		Properties: 2, Owners: 3, Loans: 2, Recipients: 1,
		PropertyHistory: 5, OwnerHistory: 4, LoanHistory: 6,
	}, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close_NoPool(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
