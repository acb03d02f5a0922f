// Package purge hard-deletes every lead record of a state.
package purge

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

// ErrInvalidState is returned for anything but a two-letter state code.
var ErrInvalidState = eris.New("purge: state must be a two-letter code")

var stateCode = regexp.MustCompile(`^[A-Z]{2}$`)

// Purger plans and runs state purges. DNM entries and unit logs are never
// touched.
type Purger struct {
	store store.Store
	log   *zap.Logger
}

// New creates a Purger.
func New(st store.Store) *Purger {
	return &Purger{store: st, log: zap.L().With(zap.String("component", "purge"))}
}

// NormalizeState upper-cases and validates a state code.
func NormalizeState(state string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(state))
	if !stateCode.MatchString(s) {
		return "", eris.Wrapf(ErrInvalidState, "purge: %q", state)
	}
	return s, nil
}

// Plan counts the rows a purge of state would delete.
func (p *Purger) Plan(ctx context.Context, state string) (model.PurgeCounts, error) {
	s, err := NormalizeState(state)
	if err != nil {
		return model.PurgeCounts{}, err
	}
	c, err := p.store.PurgePlan(ctx, s)
	return c, eris.Wrapf(err, "purge: plan %s", s)
}

// Execute deletes the state's entity history, then its recipients, loans,
// owners and properties, in one transaction and returns what was removed.
func (p *Purger) Execute(ctx context.Context, state string) (model.PurgeCounts, error) {
	s, err := NormalizeState(state)
	if err != nil {
		return model.PurgeCounts{}, err
	}
	var c model.PurgeCounts
	err = p.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.PurgeState(ctx, s)
		return err
	})
	if err != nil {
		return model.PurgeCounts{}, eris.Wrapf(err, "purge: execute %s", s)
	}
	p.log.Warn("state purged",
		zap.String("state", s),
		zap.Int64("properties", c.Properties),
		zap.Int64("owners", c.Owners),
		zap.Int64("loans", c.Loans),
		zap.Int64("recipients", c.Recipients),
		zap.Int64("history", c.PropertyHistory+c.OwnerHistory+c.LoanHistory),
	)
	return c, nil
}
