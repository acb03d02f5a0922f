// Package store persists properties, owners, loans, ingestion units, the DNM
// registry and campaign recipients. PostgreSQL is the production backend;
// SQLite serves local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
)

// ErrNotFound is returned by mutations that target a missing row. Reads
// return a nil result instead.
var ErrNotFound = eris.New("store: not found")

// EntityWriter covers the entity reads and writes reconciliation performs
// inside a record's transaction.
type EntityWriter interface {
	// UpsertProperty inserts or updates by radar_id. Nil fields keep the
	// stored value; is_active is never changed on update.
	UpsertProperty(ctx context.Context, p *model.Property) (id int64, created bool, err error)
	ListOwners(ctx context.Context, propertyID int64, vis model.Visibility) ([]model.Owner, error)
	InsertOwner(ctx context.Context, o *model.Owner) (int64, error)
	UpdateOwner(ctx context.Context, o *model.Owner) error
	// ClearPrimaryContact unsets the flag on every owner of the property
	// except keepOwnerID (0 keeps none).
	ClearPrimaryContact(ctx context.Context, propertyID, keepOwnerID int64) error
	// LockLoans returns every loan row of the property, active first, then
	// oldest, locking them for the rest of the transaction where supported.
	LockLoans(ctx context.Context, propertyID int64) ([]model.Loan, error)
	InsertLoan(ctx context.Context, l *model.Loan) (int64, error)
	// UpdateLoan overwrites the lien fields of l.ID and marks it active.
	UpdateLoan(ctx context.Context, l *model.Loan) error
	DeactivateLoans(ctx context.Context, ids []int64) error
}

// Tx is the set of operations available inside WithTx.
type Tx interface {
	EntityWriter
	CreateUnit(ctx context.Context, u *model.IngestionUnit) error
	InsertRecipients(ctx context.Context, rs []model.CampaignRecipient) (int64, error)
	PurgeState(ctx context.Context, state string) (model.PurgeCounts, error)
}

// UnitFilter specifies criteria for listing ingestion units.
type UnitFilter struct {
	Status   model.UnitStatus `json:"status,omitempty"`
	ParentID *int64           `json:"parent_id,omitempty"`
	Kind     model.UnitKind   `json:"kind,omitempty"`
	Limit    int              `json:"limit,omitempty"`
	Offset   int              `json:"offset,omitempty"`
}

// DnmFilter specifies criteria for listing DNM entries.
type DnmFilter struct {
	LoanID     *int64           `json:"loan_id,omitempty"`
	PropertyID *int64           `json:"property_id,omitempty"`
	RadarID    string           `json:"radar_id,omitempty"`
	Source     string           `json:"source,omitempty"`
	BlockedBy  string           `json:"blocked_by,omitempty"`
	Visibility model.Visibility `json:"-"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// DnmKeys is a bulk suppression probe. Each slice is matched independently.
type DnmKeys struct {
	LoanIDs     []int64
	PropertyIDs []int64
	RadarIDs    []string
}

// Len returns the number of identifiers in the probe.
func (k DnmKeys) Len() int {
	return len(k.LoanIDs) + len(k.PropertyIDs) + len(k.RadarIDs)
}

// CandidateFilter narrows the properties offered to a campaign.
type CandidateFilter struct {
	State            string   `json:"state,omitempty"`
	MinEquityPercent *float64 `json:"min_equity_percent,omitempty"`
	RadarIDs         []string `json:"radar_ids,omitempty"`
	Limit            int      `json:"limit,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	Tx

	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Entities
	GetProperty(ctx context.Context, radarID string, vis model.Visibility) (*model.Property, error)
	ListLoans(ctx context.Context, propertyID int64, vis model.Visibility) ([]model.Loan, error)
	// ListLoanHistory returns the archived versions of a loan, oldest first.
	ListLoanHistory(ctx context.Context, loanID int64) ([]model.LoanVersion, error)

	// Ingestion units
	GetUnit(ctx context.Context, id int64) (*model.IngestionUnit, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]model.IngestionUnit, error)
	// ClaimNextUnit atomically moves the next claimable unit to PROCESSING
	// under a fresh claim token. It returns nil when nothing is pending.
	ClaimNextUnit(ctx context.Context, workerID string) (*model.IngestionUnit, error)
	// UpdateUnitProgress records counts while claim still holds the unit.
	// It reports false once the unit is no longer PROCESSING under claim.
	UpdateUnitProgress(ctx context.Context, claim model.Claim, c model.UnitCounts) (bool, error)
	// FinishUnit moves a unit held by claim to status with its final counts.
	// It reports false, without error, when claim no longer holds the unit:
	// already finished, reset, re-claimed, or never claimed.
	FinishUnit(ctx context.Context, claim model.Claim, status model.UnitStatus, c model.UnitCounts, details string) (bool, error)
	// ResetUnit returns a leaf to PENDING and voids its claim. Criteria
	// units keep their batch size as the expected total.
	ResetUnit(ctx context.Context, id int64) error
	UpdateParent(ctx context.Context, id int64, status model.UnitStatus, c model.UnitCounts, details string, processedAt *time.Time) error
	FindStuckUnits(ctx context.Context, pendingBefore, processingBefore time.Time) ([]model.IngestionUnit, error)
	AppendUnitLogs(ctx context.Context, logs []model.UnitLog) error
	ListUnitLogs(ctx context.Context, unitID int64, limit, offset int) ([]model.UnitLog, error)

	// DNM registry
	InsertDnm(ctx context.Context, e *model.DnmEntry) error
	GetDnm(ctx context.Context, id int64) (*model.DnmEntry, error)
	// DeactivateDnm soft-deletes an entry. It reports false when the entry
	// was already inactive.
	DeactivateDnm(ctx context.Context, id int64, removedBy string) (bool, error)
	CountActiveDnm(ctx context.Context, ids model.Identifiers) (int, error)
	ListDnm(ctx context.Context, filter DnmFilter) ([]model.DnmEntry, error)
	ActiveDnmMatches(ctx context.Context, keys DnmKeys) ([]model.DnmEntry, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error)
	CountRecipients(ctx context.Context, campaignID int64) (int, error)

	// Maintenance
	PurgePlan(ctx context.Context, state string) (model.PurgeCounts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func now() time.Time {
	return time.Now().UTC()
}
