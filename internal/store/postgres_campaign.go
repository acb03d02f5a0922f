package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/db"
	"github.com/sells-group/mailhaus/internal/model"
)

func (q *pgQueries) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = now()
	err := q.q.QueryRow(ctx,
		`INSERT INTO campaigns (name, mail_date, created_at) VALUES ($1, $2, $3) RETURNING campaign_id`,
		c.Name, c.MailDate, c.CreatedAt,
	).Scan(&c.ID)
	return eris.Wrap(err, "postgres: create campaign")
}

func (q *pgQueries) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	err := q.q.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.MailDate, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get campaign %d", id)
	}
	return &c, nil
}

func (q *pgQueries) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	b := candidatesQuery(pgPlaceholder, filter)
	rows, err := q.q.Query(ctx, b.String(), b.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate candidates")
}

func (q *pgQueries) CountRecipients(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := q.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1`, campaignID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count recipients for campaign %d", campaignID)
}

// InsertRecipients bulk-loads recipients with COPY.
func (q *pgQueries) InsertRecipients(ctx context.Context, rs []model.CampaignRecipient) (int64, error) {
	ts := now()
	rows := make([][]any, len(rs))
	for i := range rs {
		rows[i] = recipientRow(&rs[i], ts)
	}
	n, err := db.CopyFrom(ctx, q.q, "campaign_recipients", recipientColumns, rows)
	return n, eris.Wrap(err, "postgres: insert recipients")
}

const pgPurgePlan = `SELECT
	(SELECT COUNT(*) FROM properties WHERE state = $1),
	(SELECT COUNT(*) FROM owners o JOIN properties p ON p.property_id = o.property_id WHERE p.state = $1),
	(SELECT COUNT(*) FROM loans l JOIN properties p ON p.property_id = l.property_id WHERE p.state = $1),
	(SELECT COUNT(*) FROM campaign_recipients r JOIN properties p ON p.property_id = r.property_id WHERE p.state = $1),
	(SELECT COUNT(*) FROM property_history h JOIN properties p ON p.property_id = h.property_id WHERE p.state = $1),
	(SELECT COUNT(*) FROM property_owner_history h JOIN properties p ON p.property_id = h.property_id WHERE p.state = $1),
	(SELECT COUNT(*) FROM loan_history h JOIN properties p ON p.property_id = h.property_id WHERE p.state = $1)`

func (q *pgQueries) PurgePlan(ctx context.Context, state string) (model.PurgeCounts, error) {
	var c model.PurgeCounts
	err := q.q.QueryRow(ctx, pgPurgePlan, strings.ToUpper(state)).
		Scan(&c.Properties, &c.Owners, &c.Loans, &c.Recipients, &c.PropertyHistory, &c.OwnerHistory, &c.LoanHistory)
	return c, eris.Wrapf(err, "postgres: purge plan for %s", state)
}

// purgeStatements delete history first, then children before parents. The
// DNM registry and unit logs are left intact.
var purgeStatements = []struct {
	table string
	sql   string
}{
	{"property_owner_history", `DELETE FROM property_owner_history WHERE property_id IN (SELECT property_id FROM properties WHERE state = %s)`},
	{"property_history", `DELETE FROM property_history WHERE property_id IN (SELECT property_id FROM properties WHERE state = %s)`},
	{"loan_history", `DELETE FROM loan_history WHERE property_id IN (SELECT property_id FROM properties WHERE state = %s)`},
	{"campaign_recipients", `DELETE FROM campaign_recipients WHERE property_id IN (SELECT property_id FROM properties WHERE state = %s)`},
	{"loans", `DELETE FROM loans WHERE property_id IN (SELECT property_id FROM properties WHERE state = %s)`},
	{"owners", `DELETE FROM owners WHERE property_id IN (SELECT property_id FROM properties WHERE state = %s)`},
	{"properties", `DELETE FROM properties WHERE state = %s`},
}

func (q *pgQueries) PurgeState(ctx context.Context, state string) (model.PurgeCounts, error) {
	var c model.PurgeCounts
	state = strings.ToUpper(state)
	for _, stmt := range purgeStatements {
		b := newBuilder(pgPlaceholder, "").add(stmt.sql, state)
		tag, err := q.q.Exec(ctx, b.String(), b.args...)
		if err != nil {
			return c, eris.Wrapf(err, "postgres: purge %s for %s", stmt.table, state)
		}
		setPurged(&c, stmt.table, tag.RowsAffected())
	}
	return c, nil
}
