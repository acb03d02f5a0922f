// Package reconcile merges normalized provider records into the entity
// store without duplicating properties or loans.
package reconcile

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/provider"
	"github.com/sells-group/mailhaus/internal/store"
)

// OwnerPolicy decides whether incoming owners update existing rows.
type OwnerPolicy string

// Owner policies.
const (
	// OwnerAppend inserts every incoming owner unless the record names an
	// existing owner_id. Repeated ingestion accumulates owner rows.
	OwnerAppend OwnerPolicy = "append"
	// OwnerMatch updates an active owner of the same property whose
	// case-folded full name matches, and inserts otherwise.
	OwnerMatch OwnerPolicy = "match"
)

// ParseOwnerPolicy validates a configured policy name.
func ParseOwnerPolicy(s string) (OwnerPolicy, error) {
	switch p := OwnerPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OwnerAppend, nil
	case OwnerAppend, OwnerMatch:
		return p, nil
	default:
		return "", eris.Errorf("reconcile: unknown owner policy %q", s)
	}
}

// Result summarizes the writes made for one record.
type Result struct {
	RadarID         string           `json:"radar_id"`
	PropertyID      int64            `json:"property_id"`
	PropertyCreated bool             `json:"property_created"`
	OwnersInserted  int              `json:"owners_inserted"`
	OwnersUpdated   int              `json:"owners_updated"`
	Loan            LoanOutcome      `json:"loan"`
	Issues          []provider.Issue `json:"issues,omitempty"`
}

// Engine reconciles provider records for one provider.
type Engine struct {
	providerID string
	policy     OwnerPolicy
	log        *zap.Logger
}

// New creates an Engine.
func New(providerID string, policy OwnerPolicy) *Engine {
	if policy == "" {
		policy = OwnerAppend
	}
	return &Engine{
		providerID: providerID,
		policy:     policy,
		log:        zap.L().With(zap.String("component", "reconcile")),
	}
}

// ProviderID returns the provider stamped on reconciled properties.
func (e *Engine) ProviderID() string {
	return e.providerID
}

// Prepare normalizes a raw record. Field problems are returned on the draft;
// only a record without an identifier fails.
func (e *Engine) Prepare(rec provider.Record) (*provider.Draft, error) {
	d, err := provider.Normalize(rec, e.providerID)
	if err != nil {
		return nil, &RecordError{Class: Classify(err), Err: err}
	}
	return d, nil
}

// Reconcile normalizes rec and applies it through tx.
func (e *Engine) Reconcile(ctx context.Context, tx store.EntityWriter, rec provider.Record) (*Result, error) {
	d, err := e.Prepare(rec)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, tx, d)
}

// Apply writes a draft: property upsert, owners per policy, then loan
// consolidation. tx must be a single transaction; on error the caller rolls
// it back so the record leaves no partial writes.
func (e *Engine) Apply(ctx context.Context, tx store.EntityWriter, d *provider.Draft) (*Result, error) {
	radarID := d.RadarID()
	res := &Result{RadarID: radarID, Issues: d.Issues}

	prop := d.Property
	prop.ProviderID = e.providerID
	id, created, err := tx.UpsertProperty(ctx, &prop)
	if err != nil {
		return nil, recordError(radarID, err)
	}
	res.PropertyID, res.PropertyCreated = id, created

	res.OwnersInserted, res.OwnersUpdated, err = e.reconcileOwners(ctx, tx, id, d)
	if err != nil {
		return nil, recordError(radarID, err)
	}

	var loan *model.Loan
	if d.Loan != nil {
		l := *d.Loan
		loan = &l
	}
	res.Loan, err = ReconcileSingleton(ctx, tx, id, loan)
	if err != nil {
		return nil, recordError(radarID, err)
	}

	e.log.Debug("record reconciled",
		zap.String("radar_id", radarID),
		zap.Int64("property_id", id),
		zap.Bool("created", created),
		zap.String("loan", string(res.Loan.Action)),
		zap.Int("issues", len(d.Issues)),
	)
	return res, nil
}

func (e *Engine) reconcileOwners(ctx context.Context, tx store.EntityWriter, propertyID int64, d *provider.Draft) (inserted, updated int, err error) {
	if len(d.Owners) == 0 {
		return 0, 0, nil
	}

	var existing []model.Owner
	if e.policy == OwnerMatch {
		existing, err = tx.ListOwners(ctx, propertyID, model.ActiveOnly)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "reconcile: list owners for property %d", propertyID)
		}
	}

	for i := range d.Owners {
		o := d.Owners[i]
		o.PropertyID = propertyID

		var target int64
		switch {
		case i == 0 && d.OwnerID != nil:
			target = *d.OwnerID
		case e.policy == OwnerMatch:
			target = matchOwner(existing, &o)
		}

		if o.IsPrimaryContact {
			if err := tx.ClearPrimaryContact(ctx, propertyID, target); err != nil {
				return inserted, updated, eris.Wrapf(err, "reconcile: clear primary contact for property %d", propertyID)
			}
		}

		if target != 0 {
			o.ID = target
			if err := tx.UpdateOwner(ctx, &o); err != nil {
				return inserted, updated, eris.Wrapf(err, "reconcile: update owner %d", target)
			}
			updated++
			continue
		}
		if _, err := tx.InsertOwner(ctx, &o); err != nil {
			return inserted, updated, eris.Wrapf(err, "reconcile: insert owner for property %d", propertyID)
		}
		inserted++
		if e.policy == OwnerMatch {
			existing = append(existing, o)
		}
	}
	return inserted, updated, nil
}

func matchOwner(existing []model.Owner, o *model.Owner) int64 {
	if o.FullName == nil {
		return 0
	}
	key := provider.FoldName(*o.FullName)
	for _, ex := range existing {
		if ex.FullName != nil && provider.FoldName(*ex.FullName) == key {
			return ex.ID
		}
	}
	return 0
}
