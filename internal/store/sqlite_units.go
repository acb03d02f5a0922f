package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/db"
	"github.com/sells-group/mailhaus/internal/model"
)

var sqliteUnitColumns = unitSelect("criteria")

func (q *sqliteQueries) CreateUnit(ctx context.Context, u *model.IngestionUnit) error {
	ts := now()
	if u.Status == "" {
		u.Status = model.UnitPending
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO ingestion_units (kind, name, source_path, criteria, campaign_id, provider_id,
			status, priority, parent_id, is_parent, batch_number, batch_offset, batch_size,
			properties_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(u.Kind), u.Name, u.SourcePath, criteriaArg(u), u.CampaignID, u.ProviderID,
		string(u.Status), u.Priority, u.ParentID, u.IsParent, u.BatchNumber, u.Offset, u.Size,
		u.PropertiesCount, ts, ts,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: create unit")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: unit id")
	}
	u.ID, u.CreatedAt, u.UpdatedAt = id, ts, ts
	return nil
}

func (q *sqliteQueries) GetUnit(ctx context.Context, id int64) (*model.IngestionUnit, error) {
	u, err := scanUnit(q.q.QueryRowContext(ctx,
		`SELECT `+sqliteUnitColumns+` FROM ingestion_units WHERE unit_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get unit %d", id)
	}
	return u, nil
}

func (q *sqliteQueries) ListUnits(ctx context.Context, filter UnitFilter) ([]model.IngestionUnit, error) {
	b := unitsQuery(sqlitePlaceholder, sqliteUnitColumns, filter)
	return q.queryUnits(ctx, b.String(), b.args...)
}

func (q *sqliteQueries) queryUnits(ctx context.Context, query string, args ...any) ([]model.IngestionUnit, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list units")
	}
	defer rows.Close() //nolint:errcheck

	var units []model.IngestionUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit")
		}
		units = append(units, *u)
	}
	return units, eris.Wrap(rows.Err(), "sqlite: iterate units")
}

// ClaimNextUnit selects and transitions in one statement, which SQLite
// executes under its database write lock.
func (q *sqliteQueries) ClaimNextUnit(ctx context.Context, workerID string) (*model.IngestionUnit, error) {
	ts := now()
	u, err := scanUnit(q.q.QueryRowContext(ctx,
		`UPDATE ingestion_units
		SET status = 'PROCESSING', claimed_by = ?, claim_token = ?, started_at = ?, updated_at = ?
		WHERE unit_id = (
			SELECT unit_id FROM ingestion_units
			WHERE status = 'PENDING' AND NOT is_parent
			ORDER BY priority DESC, created_at ASC, unit_id ASC
			LIMIT 1
		) AND status = 'PENDING'
		RETURNING `+sqliteUnitColumns,
		workerID, uuid.NewString(), ts, ts,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim unit")
	}
	return u, nil
}

func (q *sqliteQueries) UpdateUnitProgress(ctx context.Context, claim model.Claim, c model.UnitCounts) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE ingestion_units
		SET properties_count = ?, processed_records = ?, success_count = ?, error_count = ?, updated_at = ?
		WHERE unit_id = ? AND status = 'PROCESSING' AND claim_token = ? AND claim_token != ''`,
		c.Total, c.Processed, c.Success, c.Errors, now(), claim.UnitID, claim.Token,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update unit %d progress", claim.UnitID)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

func (q *sqliteQueries) FinishUnit(ctx context.Context, claim model.Claim, status model.UnitStatus, c model.UnitCounts, details string) (bool, error) {
	ts := now()
	id := claim.UnitID
	res, err := q.q.ExecContext(ctx,
		`UPDATE ingestion_units
		SET status = ?, properties_count = ?, processed_records = ?, success_count = ?,
			error_count = ?, error_details = ?, processed_at = ?, updated_at = ?
		WHERE unit_id = ? AND status = 'PROCESSING' AND claim_token = ? AND claim_token != ''`,
		string(status), c.Total, c.Processed, c.Success, c.Errors, details, ts, ts, id, claim.Token,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish unit %d", id)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	return false, q.unitExists(ctx, id)
}

func (q *sqliteQueries) unitExists(ctx context.Context, id int64) error {
	var one int
	err := q.q.QueryRowContext(ctx, `SELECT 1 FROM ingestion_units WHERE unit_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: unit %d", id)
	}
	return eris.Wrapf(err, "sqlite: lookup unit %d", id)
}

func (q *sqliteQueries) ResetUnit(ctx context.Context, id int64) error {
	ts := now()
	res, err := q.q.ExecContext(ctx,
		`UPDATE ingestion_units
		SET status = 'PENDING',
			properties_count = CASE WHEN kind = 'CRITERIA' THEN batch_size ELSE 0 END,
			processed_records = 0, success_count = 0, error_count = 0, error_details = '',
			claimed_by = '', claim_token = '', started_at = NULL,
			processed_at = NULL, requeued_at = ?, updated_at = ?
		WHERE unit_id = ? AND NOT is_parent`,
		ts, ts, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset unit %d", id)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: reset unit %d", id)
	}
	return nil
}

func (q *sqliteQueries) UpdateParent(ctx context.Context, id int64, status model.UnitStatus, c model.UnitCounts, details string, processedAt *time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE ingestion_units
		SET status = ?, properties_count = ?, processed_records = ?, success_count = ?,
			error_count = ?, error_details = ?, processed_at = ?, updated_at = ?
		WHERE unit_id = ? AND is_parent`,
		string(status), c.Total, c.Processed, c.Success, c.Errors, details, processedAt, now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update parent %d", id)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: update parent %d", id)
	}
	return nil
}

func (q *sqliteQueries) FindStuckUnits(ctx context.Context, pendingBefore, processingBefore time.Time) ([]model.IngestionUnit, error) {
	return q.queryUnits(ctx,
		`SELECT `+sqliteUnitColumns+` FROM ingestion_units
		WHERE NOT is_parent AND (
			(status = 'PENDING' AND COALESCE(requeued_at, created_at) < ?)
			OR (status = 'PROCESSING' AND COALESCE(requeued_at, created_at) < ?)
		)
		ORDER BY created_at, unit_id`,
		pendingBefore.UTC(), processingBefore.UTC(),
	)
}

// sqliteInsertChunk bounds multi-row inserts well under SQLite's variable limit.
const sqliteInsertChunk = 200

func (q *sqliteQueries) AppendUnitLogs(ctx context.Context, logs []model.UnitLog) error {
	ts := now()
	for _, chunk := range db.Chunk(logs, sqliteInsertChunk) {
		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*6)
		for i, l := range chunk {
			created := l.CreatedAt
			if created.IsZero() {
				created = ts
			}
			values[i] = "(?, ?, ?, ?, ?, ?)"
			args = append(args, l.UnitID, string(l.Level), l.RadarID, l.ErrorClass, l.Message, created)
		}
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO unit_logs (unit_id, level, radar_id, error_class, message, created_at) VALUES `+
				strings.Join(values, ", "),
			args...,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: append unit logs")
		}
	}
	return nil
}

func (q *sqliteQueries) ListUnitLogs(ctx context.Context, unitID int64, limit, offset int) ([]model.UnitLog, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+unitLogColumns+` FROM unit_logs WHERE unit_id = ? ORDER BY log_id LIMIT ? OFFSET ?`,
		unitID, pageLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unit logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.UnitLog
	for rows.Next() {
		l, err := scanUnitLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit log")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: iterate unit logs")
}
