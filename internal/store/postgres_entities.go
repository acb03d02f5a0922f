package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

var pgPropertyUpsert = withArchive(propertyHistory, pgPlaceholder(len(propertyDataColumns)+1), "radar_id = $1",
	propertyUpsertSQL(pgPlaceholder)) + "\nRETURNING property_id, (xmax = 0) AS inserted"

// UpsertProperty archives the stored row, if any, in the same statement.
func (q *pgQueries) UpsertProperty(ctx context.Context, p *model.Property) (int64, bool, error) {
	args := append(propertyArgs(p), now())
	var id int64
	var inserted bool
	if err := q.q.QueryRow(ctx, pgPropertyUpsert, args...).Scan(&id, &inserted); err != nil {
		return 0, false, eris.Wrapf(err, "postgres: upsert property %s", p.RadarID)
	}
	return id, inserted, nil
}

func (q *pgQueries) GetProperty(ctx context.Context, radarID string, vis model.Visibility) (*model.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE radar_id = $1`
	if vis == model.ActiveOnly {
		query += ` AND is_active`
	}
	var p model.Property
	err := q.q.QueryRow(ctx, query, radarID).Scan(propertyDest(&p)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get property %s", radarID)
	}
	return &p, nil
}

func (q *pgQueries) ListOwners(ctx context.Context, propertyID int64, vis model.Visibility) ([]model.Owner, error) {
	query := `SELECT ` + ownerColumns + ` FROM owners WHERE property_id = $1`
	if vis == model.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY owner_id`

	rows, err := q.q.Query(ctx, query, propertyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list owners")
	}
	defer rows.Close()

	var owners []model.Owner
	for rows.Next() {
		var o model.Owner
		if err := rows.Scan(ownerDest(&o)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan owner")
		}
		owners = append(owners, o)
	}
	return owners, eris.Wrap(rows.Err(), "postgres: iterate owners")
}

func (q *pgQueries) InsertOwner(ctx context.Context, o *model.Owner) (int64, error) {
	ts := now()
	var id int64
	err := q.q.QueryRow(ctx,
		`INSERT INTO owners (property_id, first_name, last_name, full_name, owner_type,
			is_primary_contact, has_phone, has_email, mail_address, mail_city, mail_state, mail_zip,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $13)
		RETURNING owner_id`,
		o.PropertyID, o.FirstName, o.LastName, o.FullName, string(o.OwnerType),
		o.IsPrimaryContact, o.HasPhone, o.HasEmail, o.MailAddress, o.MailCity, o.MailState, o.MailZip,
		ts,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert owner")
	}
	o.ID, o.IsActive, o.CreatedAt, o.UpdatedAt = id, true, ts, ts
	return id, nil
}

func (q *pgQueries) UpdateOwner(ctx context.Context, o *model.Owner) error {
	ts := now()
	tag, err := q.q.Exec(ctx, withArchive(ownerHistory, "$14", "owner_id = $1 AND property_id = $2",
		`UPDATE owners SET
			first_name = COALESCE($3, first_name),
			last_name = COALESCE($4, last_name),
			full_name = COALESCE($5, full_name),
			owner_type = $6,
			is_primary_contact = $7,
			has_phone = $8,
			has_email = $9,
			mail_address = COALESCE($10, mail_address),
			mail_city = COALESCE($11, mail_city),
			mail_state = COALESCE($12, mail_state),
			mail_zip = COALESCE($13, mail_zip),
			is_active = TRUE,
			updated_at = $14
		WHERE owner_id = $1 AND property_id = $2`),
		o.ID, o.PropertyID, o.FirstName, o.LastName, o.FullName, string(o.OwnerType),
		o.IsPrimaryContact, o.HasPhone, o.HasEmail, o.MailAddress, o.MailCity, o.MailState, o.MailZip,
		ts,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update owner %d", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update owner %d", o.ID)
	}
	o.IsActive, o.UpdatedAt = true, ts
	return nil
}

func (q *pgQueries) ClearPrimaryContact(ctx context.Context, propertyID, keepOwnerID int64) error {
	_, err := q.q.Exec(ctx, withArchive(ownerHistory, "$3", "property_id = $1 AND owner_id <> $2 AND is_primary_contact",
		`UPDATE owners SET is_primary_contact = FALSE, updated_at = $3
		WHERE property_id = $1 AND owner_id <> $2 AND is_primary_contact`),
		propertyID, keepOwnerID, now(),
	)
	return eris.Wrapf(err, "postgres: clear primary contact for property %d", propertyID)
}

func (q *pgQueries) LockLoans(ctx context.Context, propertyID int64) ([]model.Loan, error) {
	return q.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE property_id = $1
		ORDER BY is_active DESC, created_at ASC, loan_id ASC
		FOR UPDATE`,
		propertyID,
	)
}

func (q *pgQueries) ListLoans(ctx context.Context, propertyID int64, vis model.Visibility) ([]model.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE property_id = $1`
	if vis == model.ActiveOnly {
		query += ` AND is_active`
	}
	return q.queryLoans(ctx, query+` ORDER BY loan_id`, propertyID)
}

func (q *pgQueries) ListLoanHistory(ctx context.Context, loanID int64) ([]model.LoanVersion, error) {
	rows, err := q.q.Query(ctx, loanHistorySelect+` WHERE loan_id = $1 ORDER BY history_id`, loanID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: loan history %d", loanID)
	}
	defer rows.Close()

	var versions []model.LoanVersion
	for rows.Next() {
		var v model.LoanVersion
		if err := rows.Scan(loanVersionDest(&v)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan loan version")
		}
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "postgres: iterate loan history")
}

func (q *pgQueries) queryLoans(ctx context.Context, query string, args ...any) ([]model.Loan, error) {
	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list loans")
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		var l model.Loan
		if err := rows.Scan(loanDest(&l)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan loan")
		}
		loans = append(loans, l)
	}
	return loans, eris.Wrap(rows.Err(), "postgres: iterate loans")
}

func (q *pgQueries) InsertLoan(ctx context.Context, l *model.Loan) (int64, error) {
	ts := now()
	args := append([]any{l.PropertyID}, loanArgs(l)...)
	args = append(args, ts)
	var id int64
	err := q.q.QueryRow(ctx,
		`INSERT INTO loans (property_id, first_amount, first_rate, first_rate_type, first_loan_type,
			first_date, first_lender, second_amount, second_rate, second_rate_type, second_loan_type,
			second_date, total_balance, ltv, estimated_payment, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, TRUE, $16, $16)
		RETURNING loan_id`,
		args...,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert loan")
	}
	l.ID, l.IsActive, l.CreatedAt, l.UpdatedAt = id, true, ts, ts
	return id, nil
}

func (q *pgQueries) UpdateLoan(ctx context.Context, l *model.Loan) error {
	ts := now()
	args := append([]any{l.ID}, loanArgs(l)...)
	args = append(args, ts)
	tag, err := q.q.Exec(ctx, withArchive(loanHistory, "$16", "loan_id = $1",
		`UPDATE loans SET
			first_amount = $2, first_rate = $3, first_rate_type = $4, first_loan_type = $5,
			first_date = $6, first_lender = $7, second_amount = $8, second_rate = $9,
			second_rate_type = $10, second_loan_type = $11, second_date = $12,
			total_balance = $13, ltv = $14, estimated_payment = $15,
			is_active = TRUE, updated_at = $16
		WHERE loan_id = $1`),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update loan %d", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update loan %d", l.ID)
	}
	l.IsActive, l.UpdatedAt = true, ts
	return nil
}

func (q *pgQueries) DeactivateLoans(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.q.Exec(ctx, withArchive(loanHistory, "$2", "loan_id = ANY($1) AND is_active",
		`UPDATE loans SET is_active = FALSE, updated_at = $2 WHERE loan_id = ANY($1) AND is_active`),
		ids, now(),
	)
	return eris.Wrap(err, "postgres: deactivate loans")
}
