package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/db"
	"github.com/sells-group/mailhaus/internal/model"
)

func (q *sqliteQueries) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO campaigns (name, mail_date, created_at) VALUES (?, ?, ?)`,
		c.Name, c.MailDate.UTC(), c.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: create campaign")
	}
	c.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: campaign id")
}

func (q *sqliteQueries) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	err := q.q.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.MailDate, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get campaign %d", id)
	}
	return &c, nil
}

func (q *sqliteQueries) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	b := candidatesQuery(sqlitePlaceholder, filter)
	rows, err := q.q.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

func (q *sqliteQueries) CountRecipients(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = ?`, campaignID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count recipients for campaign %d", campaignID)
}

func (q *sqliteQueries) InsertRecipients(ctx context.Context, rs []model.CampaignRecipient) (int64, error) {
	ts := now()
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(recipientColumns)), ", ") + ")"
	var total int64
	for _, chunk := range db.Chunk(rs, sqliteInsertChunk) {
		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(recipientColumns))
		for i := range chunk {
			values[i] = placeholders
			args = append(args, recipientRow(&chunk[i], ts)...)
		}
		res, err := q.q.ExecContext(ctx,
			`INSERT INTO campaign_recipients (`+strings.Join(recipientColumns, ", ")+`) VALUES `+
				strings.Join(values, ", "),
			args...,
		)
		if err != nil {
			return total, eris.Wrap(err, "sqlite: insert recipients")
		}
		n, err := rowsAffected(res)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

const sqlitePurgePlan = `SELECT
	(SELECT COUNT(*) FROM properties WHERE state = ?1),
	(SELECT COUNT(*) FROM owners o JOIN properties p ON p.property_id = o.property_id WHERE p.state = ?1),
	(SELECT COUNT(*) FROM loans l JOIN properties p ON p.property_id = l.property_id WHERE p.state = ?1),
	(SELECT COUNT(*) FROM campaign_recipients r JOIN properties p ON p.property_id = r.property_id WHERE p.state = ?1),
	(SELECT COUNT(*) FROM property_history h JOIN properties p ON p.property_id = h.property_id WHERE p.state = ?1),
	(SELECT COUNT(*) FROM property_owner_history h JOIN properties p ON p.property_id = h.property_id WHERE p.state = ?1),
	(SELECT COUNT(*) FROM loan_history h JOIN properties p ON p.property_id = h.property_id WHERE p.state = ?1)`

func (q *sqliteQueries) PurgePlan(ctx context.Context, state string) (model.PurgeCounts, error) {
	var c model.PurgeCounts
	err := q.q.QueryRowContext(ctx, sqlitePurgePlan, strings.ToUpper(state)).
		Scan(&c.Properties, &c.Owners, &c.Loans, &c.Recipients, &c.PropertyHistory, &c.OwnerHistory, &c.LoanHistory)
	return c, eris.Wrapf(err, "sqlite: purge plan for %s", state)
}

func (q *sqliteQueries) PurgeState(ctx context.Context, state string) (model.PurgeCounts, error) {
	var c model.PurgeCounts
	state = strings.ToUpper(state)
	for _, stmt := range purgeStatements {
		b := newBuilder(sqlitePlaceholder, "").add(stmt.sql, state)
		res, err := q.q.ExecContext(ctx, b.String(), b.args...)
		if err != nil {
			return c, eris.Wrapf(err, "sqlite: purge %s for %s", stmt.table, state)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return c, err
		}
		setPurged(&c, stmt.table, n)
	}
	return c, nil
}
