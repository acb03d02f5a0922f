package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

func (q *pgQueries) InsertDnm(ctx context.Context, e *model.DnmEntry) error {
	if e.BlockedAt.IsZero() {
		e.BlockedAt = now()
	}
	err := q.q.QueryRow(ctx,
		`INSERT INTO dnm_registry (loan_id, property_id, radar_id, reason, source, blocked_by, blocked_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING dnm_id`,
		e.LoanID, e.PropertyID, e.RadarID, e.Reason, e.Source, e.BlockedBy, e.BlockedAt,
	).Scan(&e.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: insert dnm entry")
	}
	e.IsActive = true
	return nil
}

func (q *pgQueries) GetDnm(ctx context.Context, id int64) (*model.DnmEntry, error) {
	e, err := scanDnm(q.q.QueryRow(ctx, `SELECT `+dnmColumns+` FROM dnm_registry WHERE dnm_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dnm entry %d", id)
	}
	return e, nil
}

func (q *pgQueries) DeactivateDnm(ctx context.Context, id int64, removedBy string) (bool, error) {
	tag, err := q.q.Exec(ctx,
		`UPDATE dnm_registry SET is_active = FALSE, removed_by = $2, removed_at = $3
		WHERE dnm_id = $1 AND is_active`,
		id, removedBy, now(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: deactivate dnm entry %d", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var one int
	err = q.q.QueryRow(ctx, `SELECT 1 FROM dnm_registry WHERE dnm_id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "postgres: dnm entry %d", id)
	}
	return false, eris.Wrapf(err, "postgres: lookup dnm entry %d", id)
}

func (q *pgQueries) CountActiveDnm(ctx context.Context, ids model.Identifiers) (int, error) {
	if ids.Empty() {
		return 0, nil
	}
	b := dnmCountQuery(pgPlaceholder, ids)
	var n int
	if err := q.q.QueryRow(ctx, b.String(), b.args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count dnm entries")
	}
	return n, nil
}

func (q *pgQueries) ListDnm(ctx context.Context, filter DnmFilter) ([]model.DnmEntry, error) {
	b := dnmQuery(pgPlaceholder, filter)
	return q.queryDnm(ctx, b.String(), b.args...)
}

func (q *pgQueries) ActiveDnmMatches(ctx context.Context, keys DnmKeys) ([]model.DnmEntry, error) {
	if keys.Len() == 0 {
		return nil, nil
	}
	b := dnmMatchQuery(pgPlaceholder, keys)
	return q.queryDnm(ctx, b.String(), b.args...)
}

func (q *pgQueries) queryDnm(ctx context.Context, query string, args ...any) ([]model.DnmEntry, error) {
	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dnm entries")
	}
	defer rows.Close()

	var entries []model.DnmEntry
	for rows.Next() {
		e, err := scanDnm(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dnm entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate dnm entries")
}
