package tracker

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

// Claim atomically moves the next unit to PROCESSING for workerID. Units are
// taken by priority, then age; a steady stream of high-priority work can
// starve lower priorities. It returns nil when no unit is pending.
func (t *Tracker) Claim(ctx context.Context, workerID string) (*model.IngestionUnit, error) {
	u, err := t.store.ClaimNextUnit(ctx, workerID)
	if err != nil {
		return nil, eris.Wrap(err, "tracker: claim")
	}
	if u != nil {
		t.log.Info("unit claimed",
			zap.Int64("unit_id", u.ID),
			zap.String("worker_id", workerID),
			zap.Int("priority", u.Priority),
		)
	}
	return u, nil
}

// RecordProgress stores mid-run counts. It reports false once claim no
// longer holds the unit, for example after an operator reset.
func (t *Tracker) RecordProgress(ctx context.Context, claim model.Claim, c model.UnitCounts) (bool, error) {
	ok, err := t.store.UpdateUnitProgress(ctx, claim, c)
	return ok, eris.Wrapf(err, "tracker: progress for unit %d", claim.UnitID)
}

// Complete records a successful run. Only the claim that moved the unit to
// PROCESSING can finish it; for any other state transitioned is false and
// the unit is left untouched.
func (t *Tracker) Complete(ctx context.Context, claim model.Claim, c model.UnitCounts) (transitioned bool, err error) {
	return t.finish(ctx, claim, model.UnitCompleted, c, "")
}

// Fail records a unit-level failure with a human-readable reason, under the
// same claim rule as Complete.
func (t *Tracker) Fail(ctx context.Context, claim model.Claim, c model.UnitCounts, reason string) (transitioned bool, err error) {
	return t.finish(ctx, claim, model.UnitFailed, c, reason)
}

func (t *Tracker) finish(ctx context.Context, claim model.Claim, status model.UnitStatus, c model.UnitCounts, details string) (bool, error) {
	id := claim.UnitID
	ok, err := t.store.FinishUnit(ctx, claim, status, c, details)
	if errors.Is(err, store.ErrNotFound) {
		return false, eris.Wrapf(ErrNotFound, "tracker: unit %d", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "tracker: finish unit %d", id)
	}
	if !ok {
		t.log.Info("completion ignored; unit not held by this claim",
			zap.Int64("unit_id", id),
			zap.String("status", string(status)),
		)
		return false, nil
	}
	fields := []zap.Field{
		zap.Int64("unit_id", id),
		zap.String("status", string(status)),
		zap.Int("total", c.Total),
		zap.Int("success", c.Success),
		zap.Int("errors", c.Errors),
	}
	if status == model.UnitFailed {
		t.log.Error("unit failed", append(fields, zap.String("reason", details))...)
	} else {
		t.log.Info("unit completed", fields...)
	}
	return true, nil
}

// IsStuck reports whether u has waited in PENDING or PROCESSING beyond its
// threshold. Age runs from the last reset, or creation.
func (t *Tracker) IsStuck(u *model.IngestionUnit) bool {
	if u.IsParent {
		return false
	}
	since := u.CreatedAt
	if u.RequeuedAt != nil {
		since = *u.RequeuedAt
	}
	age := t.now().Sub(since)
	switch u.Status {
	case model.UnitPending:
		return age > t.cfg.PendingThreshold
	case model.UnitProcessing:
		return age > t.cfg.ProcessingThreshold
	}
	return false
}

// FindStuck lists units past their pending or processing threshold. It is
// read-only; recovery is an explicit Reset.
func (t *Tracker) FindStuck(ctx context.Context) ([]model.IngestionUnit, error) {
	now := t.now()
	units, err := t.store.FindStuckUnits(ctx, now.Add(-t.cfg.PendingThreshold), now.Add(-t.cfg.ProcessingThreshold))
	return units, eris.Wrap(err, "tracker: find stuck units")
}

// Reset returns a unit to PENDING, clearing its counts, error detail and
// processed timestamp. Terminal and stuck units may be reset; any other
// leaf requires force. Parents are derived and cannot be reset. Resetting a
// child re-derives its parent.
func (t *Tracker) Reset(ctx context.Context, id int64, force bool) (*model.IngestionUnit, error) {
	u, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsParent {
		return nil, eris.Wrapf(ErrNotResettable, "tracker: unit %d is a parent", id)
	}
	if !force && !u.Status.Terminal() && !t.IsStuck(u) {
		return nil, eris.Wrapf(ErrNotResettable, "tracker: unit %d is %s and not stuck", id, u.Status)
	}

	if err := t.store.ResetUnit(ctx, id); err != nil {
		return nil, eris.Wrapf(err, "tracker: reset unit %d", id)
	}
	t.log.Warn("unit reset",
		zap.Int64("unit_id", id),
		zap.String("from", string(u.Status)),
		zap.Bool("force", force),
	)

	if u.ParentID != nil {
		if _, err := t.RecomputeParent(ctx, *u.ParentID); err != nil {
			return nil, err
		}
	}
	return t.Get(ctx, id)
}
