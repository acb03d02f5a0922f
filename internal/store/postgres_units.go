package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/db"
	"github.com/sells-group/mailhaus/internal/model"
)

var pgUnitColumns = unitSelect("criteria::text")

func (q *pgQueries) CreateUnit(ctx context.Context, u *model.IngestionUnit) error {
	ts := now()
	if u.Status == "" {
		u.Status = model.UnitPending
	}
	err := q.q.QueryRow(ctx,
		`INSERT INTO ingestion_units (kind, name, source_path, criteria, campaign_id, provider_id,
			status, priority, parent_id, is_parent, batch_number, batch_offset, batch_size,
			properties_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING unit_id`,
		string(u.Kind), u.Name, u.SourcePath, criteriaArg(u), u.CampaignID, u.ProviderID,
		string(u.Status), u.Priority, u.ParentID, u.IsParent, u.BatchNumber, u.Offset, u.Size,
		u.PropertiesCount, ts,
	).Scan(&u.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: create unit")
	}
	u.CreatedAt, u.UpdatedAt = ts, ts
	return nil
}

func (q *pgQueries) GetUnit(ctx context.Context, id int64) (*model.IngestionUnit, error) {
	u, err := scanUnit(q.q.QueryRow(ctx,
		`SELECT `+pgUnitColumns+` FROM ingestion_units WHERE unit_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get unit %d", id)
	}
	return u, nil
}

func (q *pgQueries) ListUnits(ctx context.Context, filter UnitFilter) ([]model.IngestionUnit, error) {
	b := unitsQuery(pgPlaceholder, pgUnitColumns, filter)
	return q.queryUnits(ctx, b.String(), b.args...)
}

func (q *pgQueries) queryUnits(ctx context.Context, query string, args ...any) ([]model.IngestionUnit, error) {
	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list units")
	}
	defer rows.Close()

	var units []model.IngestionUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit")
		}
		units = append(units, *u)
	}
	return units, eris.Wrap(rows.Err(), "postgres: iterate units")
}

// ClaimNextUnit picks the highest-priority, oldest pending leaf unit. SKIP
// LOCKED lets concurrent workers claim distinct units without blocking.
func (q *pgQueries) ClaimNextUnit(ctx context.Context, workerID string) (*model.IngestionUnit, error) {
	u, err := scanUnit(q.q.QueryRow(ctx,
		`UPDATE ingestion_units
		SET status = 'PROCESSING', claimed_by = $1, claim_token = $3, started_at = $2, updated_at = $2
		WHERE unit_id = (
			SELECT unit_id FROM ingestion_units
			WHERE status = 'PENDING' AND NOT is_parent
			ORDER BY priority DESC, created_at ASC, unit_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'PENDING'
		RETURNING `+pgUnitColumns,
		workerID, now(), uuid.NewString(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim unit")
	}
	return u, nil
}

func (q *pgQueries) UpdateUnitProgress(ctx context.Context, claim model.Claim, c model.UnitCounts) (bool, error) {
	tag, err := q.q.Exec(ctx,
		`UPDATE ingestion_units
		SET properties_count = $3, processed_records = $4, success_count = $5, error_count = $6, updated_at = $7
		WHERE unit_id = $1 AND status = 'PROCESSING' AND claim_token = $2 AND claim_token <> ''`,
		claim.UnitID, claim.Token, c.Total, c.Processed, c.Success, c.Errors, now(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update unit %d progress", claim.UnitID)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) FinishUnit(ctx context.Context, claim model.Claim, status model.UnitStatus, c model.UnitCounts, details string) (bool, error) {
	ts := now()
	id := claim.UnitID
	tag, err := q.q.Exec(ctx,
		`UPDATE ingestion_units
		SET status = $3, properties_count = $4, processed_records = $5, success_count = $6,
			error_count = $7, error_details = $8, processed_at = $9, updated_at = $9
		WHERE unit_id = $1 AND status = 'PROCESSING' AND claim_token = $2 AND claim_token <> ''`,
		id, claim.Token, string(status), c.Total, c.Processed, c.Success, c.Errors, details, ts,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish unit %d", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, q.unitExists(ctx, id)
}

func (q *pgQueries) unitExists(ctx context.Context, id int64) error {
	var one int
	err := q.q.QueryRow(ctx, `SELECT 1 FROM ingestion_units WHERE unit_id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: unit %d", id)
	}
	return eris.Wrapf(err, "postgres: lookup unit %d", id)
}

func (q *pgQueries) ResetUnit(ctx context.Context, id int64) error {
	ts := now()
	tag, err := q.q.Exec(ctx,
		`UPDATE ingestion_units
		SET status = 'PENDING',
			properties_count = CASE WHEN kind = 'CRITERIA' THEN batch_size ELSE 0 END,
			processed_records = 0, success_count = 0, error_count = 0, error_details = '',
			claimed_by = '', claim_token = '', started_at = NULL,
			processed_at = NULL, requeued_at = $2, updated_at = $2
		WHERE unit_id = $1 AND NOT is_parent`,
		id, ts,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reset unit %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: reset unit %d", id)
	}
	return nil
}

func (q *pgQueries) UpdateParent(ctx context.Context, id int64, status model.UnitStatus, c model.UnitCounts, details string, processedAt *time.Time) error {
	tag, err := q.q.Exec(ctx,
		`UPDATE ingestion_units
		SET status = $2, properties_count = $3, processed_records = $4, success_count = $5,
			error_count = $6, error_details = $7, processed_at = $8, updated_at = $9
		WHERE unit_id = $1 AND is_parent`,
		id, string(status), c.Total, c.Processed, c.Success, c.Errors, details, processedAt, now(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update parent %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update parent %d", id)
	}
	return nil
}

// FindStuckUnits ages pending and processing leaves from their last requeue,
// or creation if never requeued.
func (q *pgQueries) FindStuckUnits(ctx context.Context, pendingBefore, processingBefore time.Time) ([]model.IngestionUnit, error) {
	return q.queryUnits(ctx,
		`SELECT `+pgUnitColumns+` FROM ingestion_units
		WHERE NOT is_parent AND (
			(status = 'PENDING' AND COALESCE(requeued_at, created_at) < $1)
			OR (status = 'PROCESSING' AND COALESCE(requeued_at, created_at) < $2)
		)
		ORDER BY created_at, unit_id`,
		pendingBefore, processingBefore,
	)
}

var unitLogCopyColumns = []string{"unit_id", "level", "radar_id", "error_class", "message", "created_at"}

func (q *pgQueries) AppendUnitLogs(ctx context.Context, logs []model.UnitLog) error {
	ts := now()
	rows := make([][]any, len(logs))
	for i, l := range logs {
		created := l.CreatedAt
		if created.IsZero() {
			created = ts
		}
		rows[i] = []any{l.UnitID, string(l.Level), l.RadarID, l.ErrorClass, l.Message, created}
	}
	_, err := db.CopyFrom(ctx, q.q, "unit_logs", unitLogCopyColumns, rows)
	return eris.Wrap(err, "postgres: append unit logs")
}

func (q *pgQueries) ListUnitLogs(ctx context.Context, unitID int64, limit, offset int) ([]model.UnitLog, error) {
	rows, err := q.q.Query(ctx,
		`SELECT `+unitLogColumns+` FROM unit_logs WHERE unit_id = $1 ORDER BY log_id LIMIT $2 OFFSET $3`,
		unitID, pageLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unit logs")
	}
	defer rows.Close()

	var logs []model.UnitLog
	for rows.Next() {
		l, err := scanUnitLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit log")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: iterate unit logs")
}
