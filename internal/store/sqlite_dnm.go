package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

func (q *sqliteQueries) InsertDnm(ctx context.Context, e *model.DnmEntry) error {
	if e.BlockedAt.IsZero() {
		e.BlockedAt = now()
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO dnm_registry (loan_id, property_id, radar_id, reason, source, blocked_by, blocked_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE)`,
		e.LoanID, e.PropertyID, e.RadarID, e.Reason, e.Source, e.BlockedBy, e.BlockedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert dnm entry")
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: dnm entry id")
	}
	e.IsActive = true
	return nil
}

func (q *sqliteQueries) GetDnm(ctx context.Context, id int64) (*model.DnmEntry, error) {
	e, err := scanDnm(q.q.QueryRowContext(ctx, `SELECT `+dnmColumns+` FROM dnm_registry WHERE dnm_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dnm entry %d", id)
	}
	return e, nil
}

func (q *sqliteQueries) DeactivateDnm(ctx context.Context, id int64, removedBy string) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE dnm_registry SET is_active = FALSE, removed_by = ?, removed_at = ?
		WHERE dnm_id = ? AND is_active`,
		removedBy, now(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: deactivate dnm entry %d", id)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = q.q.QueryRowContext(ctx, `SELECT 1 FROM dnm_registry WHERE dnm_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "sqlite: dnm entry %d", id)
	}
	return false, eris.Wrapf(err, "sqlite: lookup dnm entry %d", id)
}

func (q *sqliteQueries) CountActiveDnm(ctx context.Context, ids model.Identifiers) (int, error) {
	if ids.Empty() {
		return 0, nil
	}
	b := dnmCountQuery(sqlitePlaceholder, ids)
	var n int
	if err := q.q.QueryRowContext(ctx, b.String(), b.args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count dnm entries")
	}
	return n, nil
}

func (q *sqliteQueries) ListDnm(ctx context.Context, filter DnmFilter) ([]model.DnmEntry, error) {
	b := dnmQuery(sqlitePlaceholder, filter)
	return q.queryDnm(ctx, b.String(), b.args...)
}

func (q *sqliteQueries) ActiveDnmMatches(ctx context.Context, keys DnmKeys) ([]model.DnmEntry, error) {
	if keys.Len() == 0 {
		return nil, nil
	}
	b := dnmMatchQuery(sqlitePlaceholder, keys)
	return q.queryDnm(ctx, b.String(), b.args...)
}

func (q *sqliteQueries) queryDnm(ctx context.Context, query string, args ...any) ([]model.DnmEntry, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dnm entries")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.DnmEntry
	for rows.Next() {
		e, err := scanDnm(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dnm entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate dnm entries")
}
