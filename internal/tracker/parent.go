package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

// ParentState is the derived status and summed counts of a parent unit.
type ParentState struct {
	Status  model.UnitStatus `json:"status"`
	Counts  model.UnitCounts `json:"counts"`
	Details string           `json:"details,omitempty"`
}

// DeriveParent computes a parent from its children. Counts are sums. Status
// is, in order: PENDING with no children; COMPLETED with a failure note if
// any child failed; COMPLETED if all completed; PROCESSING if any child is
// processing; otherwise PENDING.
func DeriveParent(children []model.IngestionUnit) ParentState {
	var s ParentState
	var failed, completed, processing int
	for i := range children {
		c := children[i].Counts()
		s.Counts.Total += c.Total
		s.Counts.Processed += c.Processed
		s.Counts.Success += c.Success
		s.Counts.Errors += c.Errors

		switch children[i].Status {
		case model.UnitFailed:
			failed++
		case model.UnitCompleted:
			completed++
		case model.UnitProcessing:
			processing++
		}
	}

	switch {
	case len(children) == 0:
		s.Status = model.UnitPending
	case failed > 0:
		s.Status = model.UnitCompleted
		s.Details = fmt.Sprintf("%d of %d batches failed", failed, len(children))
	case completed == len(children):
		s.Status = model.UnitCompleted
	case processing > 0:
		s.Status = model.UnitProcessing
	default:
		s.Status = model.UnitPending
	}
	return s
}

// RecomputeParent re-derives a parent from all of its children and stores
// the result.
func (t *Tracker) RecomputeParent(ctx context.Context, parentID int64) (*ParentState, error) {
	parent, err := t.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsParent {
		return nil, eris.Wrapf(ErrInvalidSubmission, "tracker: unit %d is not a parent", parentID)
	}

	children, err := t.store.ListUnits(ctx, store.UnitFilter{ParentID: &parentID})
	if err != nil {
		return nil, eris.Wrapf(err, "tracker: children of unit %d", parentID)
	}
	state := DeriveParent(children)

	var processedAt *time.Time
	if state.Status.Terminal() {
		ts := t.now().UTC()
		if parent.Status.Terminal() && parent.ProcessedAt != nil {
			ts = *parent.ProcessedAt
		}
		processedAt = &ts
	}
	if err := t.store.UpdateParent(ctx, parentID, state.Status, state.Counts, state.Details, processedAt); err != nil {
		return nil, eris.Wrapf(err, "tracker: update parent %d", parentID)
	}

	if state.Status != parent.Status {
		t.log.Info("parent status changed",
			zap.Int64("unit_id", parentID),
			zap.String("from", string(parent.Status)),
			zap.String("to", string(state.Status)),
			zap.String("details", state.Details),
		)
	}
	return &state, nil
}
