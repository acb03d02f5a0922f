// Package tracker drives ingestion units through PENDING, PROCESSING and a
// terminal state, and derives parent units from their children.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

var (
	// ErrNotFound is returned for an unknown unit id.
	ErrNotFound = eris.New("tracker: unit not found")
	// ErrNotResettable is returned when a reset is refused.
	ErrNotResettable = eris.New("tracker: unit is not resettable")
	// ErrInvalidSubmission is returned for a malformed submission.
	ErrInvalidSubmission = eris.New("tracker: invalid submission")
)

// Config holds tracker thresholds and batch sizing.
type Config struct {
	PendingThreshold    time.Duration
	ProcessingThreshold time.Duration
	BatchSize           int
	DefaultPriority     int
}

// FromConfig converts application settings, applying defaults for unset values.
func FromConfig(c config.TrackerConfig) Config {
	cfg := Config{
		PendingThreshold:    time.Duration(c.PendingThresholdMins) * time.Minute,
		ProcessingThreshold: time.Duration(c.ProcessingThresholdMins) * time.Minute,
		BatchSize:           c.BatchSize,
		DefaultPriority:     c.DefaultPriority,
	}
	if cfg.PendingThreshold <= 0 {
		cfg.PendingThreshold = time.Hour
	}
	if cfg.ProcessingThreshold <= 0 {
		cfg.ProcessingThreshold = 3 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return cfg
}

// Tracker is the job/file state machine over a Store.
type Tracker struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

// New creates a Tracker.
func New(st store.Store, cfg Config) *Tracker {
	return &Tracker{
		store: st,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "tracker")),
		now:   time.Now,
	}
}

// SubmitOptions are the caller-supplied attributes of a new unit.
type SubmitOptions struct {
	Name       string `json:"name,omitempty"`
	Priority   *int   `json:"priority,omitempty"`
	CampaignID *int64 `json:"campaign_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	// BatchNumber tags a single criteria unit with the caller's batch.
	BatchNumber int `json:"batch_number,omitempty"`
}

func (t *Tracker) priority(opts SubmitOptions) int {
	if opts.Priority != nil {
		return *opts.Priority
	}
	return t.cfg.DefaultPriority
}

// SubmitFile creates a PENDING unit for a batch file. The file is read when
// a worker claims the unit.
func (t *Tracker) SubmitFile(ctx context.Context, path string, opts SubmitOptions) (*model.IngestionUnit, error) {
	if path == "" {
		return nil, eris.Wrap(ErrInvalidSubmission, "tracker: file path is required")
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	u := &model.IngestionUnit{
		Kind:        model.UnitKindFile,
		Name:        name,
		SourcePath:  path,
		CampaignID:  opts.CampaignID,
		ProviderID:  opts.ProviderID,
		Status:      model.UnitPending,
		Priority:    t.priority(opts),
		BatchNumber: opts.BatchNumber,
	}
	if err := t.store.CreateUnit(ctx, u); err != nil {
		return nil, eris.Wrap(err, "tracker: submit file")
	}
	t.log.Info("file unit submitted", zap.Int64("unit_id", u.ID), zap.String("path", path))
	return u, nil
}

// SubmitCriteria creates a criteria unit for total expected records. When
// total exceeds the batch size a parent is created with one child per
// batch, all in one transaction; the parent is returned with its children.
func (t *Tracker) SubmitCriteria(ctx context.Context, criteria json.RawMessage, total int, opts SubmitOptions) (*model.IngestionUnit, []model.IngestionUnit, error) {
	if err := ValidateCriteria(criteria); err != nil {
		return nil, nil, err
	}
	if total < 0 {
		return nil, nil, eris.Wrapf(ErrInvalidSubmission, "tracker: negative total %d", total)
	}
	name := opts.Name
	if name == "" {
		name = "criteria"
	}
	base := model.IngestionUnit{
		Kind:       model.UnitKindCriteria,
		Name:       name,
		Criteria:   criteria,
		CampaignID: opts.CampaignID,
		ProviderID: opts.ProviderID,
		Status:     model.UnitPending,
		Priority:   t.priority(opts),
	}

	if total <= t.cfg.BatchSize {
		u := base
		u.BatchNumber = opts.BatchNumber
		u.Size = total
		u.PropertiesCount = total
		if err := t.store.CreateUnit(ctx, &u); err != nil {
			return nil, nil, eris.Wrap(err, "tracker: submit criteria")
		}
		t.log.Info("criteria unit submitted", zap.Int64("unit_id", u.ID), zap.Int("total", total))
		return &u, nil, nil
	}

	parent := base
	parent.IsParent = true
	parent.PropertiesCount = total
	batches := (total + t.cfg.BatchSize - 1) / t.cfg.BatchSize
	children := make([]model.IngestionUnit, 0, batches)

	err := t.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateUnit(ctx, &parent); err != nil {
			return err
		}
		for i := range batches {
			offset := i * t.cfg.BatchSize
			size := min(t.cfg.BatchSize, total-offset)
			child := base
			child.Name = fmt.Sprintf("%s (batch %d/%d)", name, i+1, batches)
			child.ParentID = &parent.ID
			child.BatchNumber = i + 1
			child.Offset = offset
			child.Size = size
			child.PropertiesCount = size
			if err := tx.CreateUnit(ctx, &child); err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "tracker: submit criteria batches")
	}
	t.log.Info("criteria parent submitted",
		zap.Int64("unit_id", parent.ID),
		zap.Int("total", total),
		zap.Int("batches", batches),
	)
	return &parent, children, nil
}

// Get returns a unit.
func (t *Tracker) Get(ctx context.Context, id int64) (*model.IngestionUnit, error) {
	u, err := t.store.GetUnit(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "tracker: get unit %d", id)
	}
	if u == nil {
		return nil, eris.Wrapf(ErrNotFound, "tracker: unit %d", id)
	}
	return u, nil
}

// List returns units matching filter.
func (t *Tracker) List(ctx context.Context, filter store.UnitFilter) ([]model.IngestionUnit, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, eris.Wrapf(ErrInvalidSubmission, "tracker: unknown status %q", filter.Status)
	}
	units, err := t.store.ListUnits(ctx, filter)
	return units, eris.Wrap(err, "tracker: list units")
}

// Progress returns the polled view of a unit.
func (t *Tracker) Progress(ctx context.Context, id int64) (*model.Progress, error) {
	u, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c := u.Counts()
	return &model.Progress{
		UnitID:    u.ID,
		Status:    u.Status,
		Processed: c.Processed,
		Total:     c.Total,
		Success:   c.Success,
		Errors:    c.Errors,
		Percent:   Percent(c.Processed, c.Total),
	}, nil
}

// Percent is processed as a share of total, 0 when total is unknown and
// never above 100.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(processed) * 100 / float64(total)
	return min(p, 100)
}

// Logs returns a page of a unit's log lines in write order.
func (t *Tracker) Logs(ctx context.Context, id int64, limit, offset int) ([]model.UnitLog, error) {
	if _, err := t.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := t.store.ListUnitLogs(ctx, id, limit, offset)
	return logs, eris.Wrapf(err, "tracker: logs for unit %d", id)
}

// AppendLogs attaches log lines to a unit.
func (t *Tracker) AppendLogs(ctx context.Context, logs []model.UnitLog) error {
	if len(logs) == 0 {
		return nil
	}
	return eris.Wrap(t.store.AppendUnitLogs(ctx, logs), "tracker: append logs")
}
