package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

var sqlitePropertyUpsert = propertyUpsertSQL(sqlitePlaceholder) + "\nRETURNING property_id"

// archive copies the rows matched by where into h's history table. Callers
// run it in the record's transaction ahead of the change.
func (q *sqliteQueries) archive(ctx context.Context, h historyTable, where string, args ...any) error {
	_, err := q.q.ExecContext(ctx, archiveSQL(h, "?", where), append([]any{now()}, args...)...)
	return eris.Wrapf(err, "sqlite: archive %s", h.source)
}

// UpsertProperty reports creation by probing radar_id first; the single
// connection keeps the probe and the write consistent. An existing row is
// archived before it is overwritten.
func (q *sqliteQueries) UpsertProperty(ctx context.Context, p *model.Property) (int64, bool, error) {
	var existing int64
	err := q.q.QueryRowContext(ctx, `SELECT property_id FROM properties WHERE radar_id = ?`, p.RadarID).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, eris.Wrapf(err, "sqlite: probe property %s", p.RadarID)
	}
	created := errors.Is(err, sql.ErrNoRows)
	if !created {
		if err := q.archive(ctx, propertyHistory, "property_id = ?", existing); err != nil {
			return 0, false, err
		}
	}

	args := append(propertyArgs(p), now())
	var id int64
	if err := q.q.QueryRowContext(ctx, sqlitePropertyUpsert, args...).Scan(&id); err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: upsert property %s", p.RadarID)
	}
	return id, created, nil
}

func (q *sqliteQueries) GetProperty(ctx context.Context, radarID string, vis model.Visibility) (*model.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE radar_id = ?`
	if vis == model.ActiveOnly {
		query += ` AND is_active`
	}
	var p model.Property
	err := q.q.QueryRowContext(ctx, query, radarID).Scan(propertyDest(&p)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get property %s", radarID)
	}
	return &p, nil
}

func (q *sqliteQueries) ListOwners(ctx context.Context, propertyID int64, vis model.Visibility) ([]model.Owner, error) {
	query := `SELECT ` + ownerColumns + ` FROM owners WHERE property_id = ?`
	if vis == model.ActiveOnly {
		query += ` AND is_active`
	}
	rows, err := q.q.QueryContext(ctx, query+` ORDER BY owner_id`, propertyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list owners")
	}
	defer rows.Close() //nolint:errcheck

	var owners []model.Owner
	for rows.Next() {
		var o model.Owner
		if err := rows.Scan(ownerDest(&o)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan owner")
		}
		owners = append(owners, o)
	}
	return owners, eris.Wrap(rows.Err(), "sqlite: iterate owners")
}

func (q *sqliteQueries) InsertOwner(ctx context.Context, o *model.Owner) (int64, error) {
	ts := now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO owners (property_id, first_name, last_name, full_name, owner_type,
			is_primary_contact, has_phone, has_email, mail_address, mail_city, mail_state, mail_zip,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)`,
		o.PropertyID, o.FirstName, o.LastName, o.FullName, string(o.OwnerType),
		o.IsPrimaryContact, o.HasPhone, o.HasEmail, o.MailAddress, o.MailCity, o.MailState, o.MailZip,
		ts, ts,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert owner")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: owner id")
	}
	o.ID, o.IsActive, o.CreatedAt, o.UpdatedAt = id, true, ts, ts
	return id, nil
}

func (q *sqliteQueries) UpdateOwner(ctx context.Context, o *model.Owner) error {
	if err := q.archive(ctx, ownerHistory, "owner_id = ? AND property_id = ?", o.ID, o.PropertyID); err != nil {
		return err
	}
	ts := now()
	res, err := q.q.ExecContext(ctx,
		`UPDATE owners SET
			first_name = COALESCE(?, first_name),
			last_name = COALESCE(?, last_name),
			full_name = COALESCE(?, full_name),
			owner_type = ?,
			is_primary_contact = ?,
			has_phone = ?,
			has_email = ?,
			mail_address = COALESCE(?, mail_address),
			mail_city = COALESCE(?, mail_city),
			mail_state = COALESCE(?, mail_state),
			mail_zip = COALESCE(?, mail_zip),
			is_active = TRUE,
			updated_at = ?
		WHERE owner_id = ? AND property_id = ?`,
		o.FirstName, o.LastName, o.FullName, string(o.OwnerType),
		o.IsPrimaryContact, o.HasPhone, o.HasEmail, o.MailAddress, o.MailCity, o.MailState, o.MailZip,
		ts, o.ID, o.PropertyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update owner %d", o.ID)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: update owner %d", o.ID)
	}
	o.IsActive, o.UpdatedAt = true, ts
	return nil
}

func (q *sqliteQueries) ClearPrimaryContact(ctx context.Context, propertyID, keepOwnerID int64) error {
	err := q.archive(ctx, ownerHistory, "property_id = ? AND owner_id <> ? AND is_primary_contact", propertyID, keepOwnerID)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx,
		`UPDATE owners SET is_primary_contact = FALSE, updated_at = ?
		WHERE property_id = ? AND owner_id <> ? AND is_primary_contact`,
		now(), propertyID, keepOwnerID,
	)
	return eris.Wrapf(err, "sqlite: clear primary contact for property %d", propertyID)
}

// LockLoans reads the property's loans in reconciliation order. The
// transaction already holds the database write lock once it has written.
func (q *sqliteQueries) LockLoans(ctx context.Context, propertyID int64) ([]model.Loan, error) {
	return q.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE property_id = ?
		ORDER BY is_active DESC, created_at ASC, loan_id ASC`,
		propertyID,
	)
}

func (q *sqliteQueries) ListLoans(ctx context.Context, propertyID int64, vis model.Visibility) ([]model.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE property_id = ?`
	if vis == model.ActiveOnly {
		query += ` AND is_active`
	}
	return q.queryLoans(ctx, query+` ORDER BY loan_id`, propertyID)
}

func (q *sqliteQueries) ListLoanHistory(ctx context.Context, loanID int64) ([]model.LoanVersion, error) {
	rows, err := q.q.QueryContext(ctx, loanHistorySelect+` WHERE loan_id = ? ORDER BY history_id`, loanID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: loan history %d", loanID)
	}
	defer rows.Close() //nolint:errcheck

	var versions []model.LoanVersion
	for rows.Next() {
		var v model.LoanVersion
		if err := rows.Scan(loanVersionDest(&v)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan loan version")
		}
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "sqlite: iterate loan history")
}

func (q *sqliteQueries) queryLoans(ctx context.Context, query string, args ...any) ([]model.Loan, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list loans")
	}
	defer rows.Close() //nolint:errcheck

	var loans []model.Loan
	for rows.Next() {
		var l model.Loan
		if err := rows.Scan(loanDest(&l)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan loan")
		}
		loans = append(loans, l)
	}
	return loans, eris.Wrap(rows.Err(), "sqlite: iterate loans")
}

func (q *sqliteQueries) InsertLoan(ctx context.Context, l *model.Loan) (int64, error) {
	ts := now()
	args := append([]any{l.PropertyID}, loanArgs(l)...)
	args = append(args, ts, ts)
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO loans (property_id, first_amount, first_rate, first_rate_type, first_loan_type,
			first_date, first_lender, second_amount, second_rate, second_rate_type, second_loan_type,
			second_date, total_balance, ltv, estimated_payment, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert loan")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: loan id")
	}
	l.ID, l.IsActive, l.CreatedAt, l.UpdatedAt = id, true, ts, ts
	return id, nil
}

func (q *sqliteQueries) UpdateLoan(ctx context.Context, l *model.Loan) error {
	if err := q.archive(ctx, loanHistory, "loan_id = ?", l.ID); err != nil {
		return err
	}
	ts := now()
	args := append(loanArgs(l), ts, l.ID)
	res, err := q.q.ExecContext(ctx,
		`UPDATE loans SET
			first_amount = ?, first_rate = ?, first_rate_type = ?, first_loan_type = ?,
			first_date = ?, first_lender = ?, second_amount = ?, second_rate = ?,
			second_rate_type = ?, second_loan_type = ?, second_date = ?,
			total_balance = ?, ltv = ?, estimated_payment = ?,
			is_active = TRUE, updated_at = ?
		WHERE loan_id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update loan %d", l.ID)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: update loan %d", l.ID)
	}
	l.IsActive, l.UpdatedAt = true, ts
	return nil
}

func (q *sqliteQueries) DeactivateLoans(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	match := newBuilder(sqlitePlaceholder, `is_active AND loan_id IN `)
	match.sql.WriteString(match.list(anySlice(ids)))
	if err := q.archive(ctx, loanHistory, match.String(), match.args...); err != nil {
		return err
	}

	b := newBuilder(sqlitePlaceholder, `UPDATE loans SET is_active = FALSE, updated_at = `)
	b.sql.WriteString(b.arg(now()))
	b.sql.WriteString(` WHERE ` + match.String())
	b.args = append(b.args, match.args...)
	_, err := q.q.ExecContext(ctx, b.String(), b.args...)
	return eris.Wrap(err, "sqlite: deactivate loans")
}
