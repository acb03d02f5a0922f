// Package campaign builds mailable recipient rows from candidate properties
// that pass the DNM gate.
package campaign

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/db"
	"github.com/sells-group/mailhaus/internal/metrics"
	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/suppression"
)

// ErrNotFound is returned for an unknown campaign id.
var ErrNotFound = eris.New("campaign: not found")

const defaultInsertChunk = 250

// CandidateSource supplies the property, owner and loan tuples a campaign
// targets.
type CandidateSource interface {
	Candidates(ctx context.Context, filter store.CandidateFilter) ([]model.Candidate, error)
}

// StoreSource selects active properties with their active primary-contact
// owner and consolidated loan.
type StoreSource struct {
	Store store.Store
}

// Candidates implements CandidateSource.
func (s StoreSource) Candidates(ctx context.Context, filter store.CandidateFilter) ([]model.Candidate, error) {
	return s.Store.ListCandidates(ctx, filter)
}

// Gate is the suppression check the builder applies.
type Gate interface {
	Lookup(ctx context.Context, idents []model.Identifiers) (*suppression.MatchSet, error)
}

// Builder generates campaign recipients.
type Builder struct {
	store       store.Store
	source      CandidateSource
	gate        Gate
	insertChunk int
	log         *zap.Logger
	now         func() time.Time
}

// NewBuilder creates a Builder. insertChunk bounds rows per insert; zero
// uses 250.
func NewBuilder(st store.Store, source CandidateSource, gate Gate, insertChunk int) *Builder {
	if insertChunk <= 0 {
		insertChunk = defaultInsertChunk
	}
	return &Builder{
		store:       st,
		source:      source,
		gate:        gate,
		insertChunk: insertChunk,
		log:         zap.L().With(zap.String("component", "campaign")),
		now:         time.Now,
	}
}

// Create registers a campaign. A zero mailDate becomes the next weekday.
func (b *Builder) Create(ctx context.Context, name string, mailDate time.Time) (*model.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, eris.New("campaign: name is required")
	}
	if mailDate.IsZero() {
		mailDate = NextWeekday(b.now())
	}
	c := &model.Campaign{Name: name, MailDate: mailDate}
	if err := b.store.CreateCampaign(ctx, c); err != nil {
		return nil, eris.Wrap(err, "campaign: create")
	}
	b.log.Info("campaign created", zap.Int64("campaign_id", c.ID), zap.Time("mail_date", mailDate))
	return c, nil
}

// Get returns a campaign.
func (b *Builder) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := b.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: get %d", id)
	}
	if c == nil {
		return nil, eris.Wrapf(ErrNotFound, "campaign: %d", id)
	}
	return c, nil
}

// BuildResult summarises one generation run.
type BuildResult struct {
	CampaignID   int64     `json:"campaign_id"`
	GenerationID uuid.UUID `json:"generation_id"`
	Candidates   int       `json:"candidates"`
	Suppressed   int       `json:"suppressed"`
	Inserted     int64     `json:"inserted"`
}

// Build selects candidates, drops every one the gate blocks, and writes the
// rest as recipients in one transaction, insertChunk rows per statement.
// All rows of the run share a generation id.
func (b *Builder) Build(ctx context.Context, campaignID int64, filter store.CandidateFilter) (*BuildResult, error) {
	c, err := b.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	candidates, err := b.source.Candidates(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: load candidates")
	}
	res := &BuildResult{CampaignID: c.ID, GenerationID: uuid.New(), Candidates: len(candidates)}
	if len(candidates) == 0 {
		b.log.Info("no candidates", zap.Int64("campaign_id", c.ID))
		return res, nil
	}

	idents := make([]model.Identifiers, len(candidates))
	for i := range candidates {
		idents[i] = candidates[i].Identifiers()
	}
	blocked, err := b.gate.Lookup(ctx, idents)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: suppression lookup")
	}

	recipients := make([]model.CampaignRecipient, 0, len(candidates))
	for i := range candidates {
		if blocked.Matches(idents[i]) {
			res.Suppressed++
			continue
		}
		recipients = append(recipients, NewRecipient(c, res.GenerationID, &candidates[i]))
	}
	metrics.RecordSuppression(len(candidates), res.Suppressed)

	err = b.store.WithTx(ctx, func(tx store.Tx) error {
		for _, chunk := range db.Chunk(recipients, b.insertChunk) {
			n, err := tx.InsertRecipients(ctx, chunk)
			if err != nil {
				return err
			}
			res.Inserted += n
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: insert recipients for %d", c.ID)
	}
	metrics.RecipientsGenerated.Add(float64(res.Inserted))

	b.log.Info("recipients generated",
		zap.Int64("campaign_id", c.ID),
		zap.String("generation_id", res.GenerationID.String()),
		zap.Int("candidates", res.Candidates),
		zap.Int("suppressed", res.Suppressed),
		zap.Int64("inserted", res.Inserted),
	)
	return res, nil
}

// NewRecipient projects a candidate onto a recipient row. The owner's
// mailing address falls back to the property address when absent.
func NewRecipient(c *model.Campaign, generationID uuid.UUID, cand *model.Candidate) model.CampaignRecipient {
	p, o := &cand.Property, &cand.Owner
	sched := Schedule(c.MailDate, cand.Loan)
	r := model.CampaignRecipient{
		CampaignID:   c.ID,
		GenerationID: generationID,
		PropertyID:   p.ID,
		OwnerID:      o.ID,
		RadarID:      p.RadarID,
		OwnerName:    ownerName(o),
		Address:      deref(p.Address),
		City:         deref(p.City),
		State:        deref(p.State),
		Zip:          deref(p.Zip),
		LoanBalance:  sched.LoanBalance,
		LoanRate:     sched.LoanRate,
		CloseMonth:   sched.CloseMonth,
		SkipMonth:    sched.SkipMonth,
		NextPayMonth: sched.NextPayMonth,
		MailDate:     sched.MailDate,
	}
	if cand.Loan != nil {
		r.LoanID = &cand.Loan.ID
	}
	if o.MailAddress != nil && *o.MailAddress != "" {
		r.MailAddress = *o.MailAddress
		r.MailCity = deref(o.MailCity)
		r.MailState = deref(o.MailState)
		r.MailZip = deref(o.MailZip)
	} else {
		r.MailAddress, r.MailCity, r.MailState, r.MailZip = r.Address, r.City, r.State, r.Zip
	}
	return r
}

func ownerName(o *model.Owner) string {
	if o.FullName != nil && *o.FullName != "" {
		return *o.FullName
	}
	return strings.TrimSpace(deref(o.FirstName) + " " + deref(o.LastName))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
