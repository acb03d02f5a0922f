package reconcile

import (
	"cmp"
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

// LoanAction is what ReconcileSingleton did to the property's loan rows.
type LoanAction string

// Loan actions.
const (
	LoanSkipped  LoanAction = "skipped"
	LoanInserted LoanAction = "inserted"
	LoanUpdated  LoanAction = "updated"
)

// LoanOutcome reports the consolidated loan row and any rows retired.
type LoanOutcome struct {
	Action      LoanAction `json:"action"`
	LoanID      int64      `json:"loan_id,omitempty"`
	Reactivated bool       `json:"reactivated,omitempty"`
	Deactivated []int64    `json:"deactivated,omitempty"`
}

// SelectTarget picks the row that represents a property's loan: active rows
// before inactive ones, then the oldest, then the lowest id. The remaining
// active rows are returned as redundant.
func SelectTarget(rows []model.Loan) (target *model.Loan, redundant []int64) {
	if len(rows) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b model.Loan) int {
		if a.IsActive != b.IsActive {
			if a.IsActive {
				return -1
			}
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, r := range sorted[1:] {
		if r.IsActive {
			redundant = append(redundant, r.ID)
		}
	}
	return &sorted[0], redundant
}

// ReconcileSingleton folds l into the single loan row of a property. Every
// existing row is read under lock regardless of its active flag; the chosen
// target is overwritten and forced active, other active rows are
// deactivated, and a new row is inserted only when none exists.
func ReconcileSingleton(ctx context.Context, tx store.EntityWriter, propertyID int64, l *model.Loan) (LoanOutcome, error) {
	if l == nil {
		return LoanOutcome{Action: LoanSkipped}, nil
	}
	l.PropertyID = propertyID

	rows, err := tx.LockLoans(ctx, propertyID)
	if err != nil {
		return LoanOutcome{}, eris.Wrapf(err, "reconcile: lock loans for property %d", propertyID)
	}

	target, redundant := SelectTarget(rows)
	if target == nil {
		id, err := tx.InsertLoan(ctx, l)
		if err != nil {
			return LoanOutcome{}, eris.Wrapf(err, "reconcile: insert loan for property %d", propertyID)
		}
		return LoanOutcome{Action: LoanInserted, LoanID: id}, nil
	}

	l.ID = target.ID
	if err := tx.UpdateLoan(ctx, l); err != nil {
		return LoanOutcome{}, eris.Wrapf(err, "reconcile: update loan %d", target.ID)
	}
	if err := tx.DeactivateLoans(ctx, redundant); err != nil {
		return LoanOutcome{}, eris.Wrapf(err, "reconcile: deactivate redundant loans for property %d", propertyID)
	}
	return LoanOutcome{
		Action:      LoanUpdated,
		LoanID:      target.ID,
		Reactivated: !target.IsActive,
		Deactivated: redundant,
	}, nil
}
