// Package monitoring watches the ingestion queue for stuck units and rising
// failure rates and escalates them to a webhook. It never resets units.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

const collectPageSize = 1000

// Snapshot holds a point-in-time view of queue health.
type Snapshot struct {
	// Leaf units created within the lookback window.
	UnitsTotal      int     `json:"units_total"`
	UnitsPending    int     `json:"units_pending"`
	UnitsProcessing int     `json:"units_processing"`
	UnitsCompleted  int     `json:"units_completed"`
	UnitsFailed     int     `json:"units_failed"`
	FailRate        float64 `json:"fail_rate"`

	RecordsProcessed int     `json:"records_processed"`
	RecordErrors     int     `json:"record_errors"`
	RecordErrorRate  float64 `json:"record_error_rate"`

	// Stuck units regardless of age window.
	StuckUnits []int64 `json:"stuck_units,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// UnitSource is the tracker surface the collector reads.
type UnitSource interface {
	List(ctx context.Context, filter store.UnitFilter) ([]model.IngestionUnit, error)
	FindStuck(ctx context.Context) ([]model.IngestionUnit, error)
}

// Collector gathers snapshots from the unit tracker.
type Collector struct {
	units UnitSource
	now   func() time.Time
}

// NewCollector creates a collector over units.
func NewCollector(units UnitSource) *Collector {
	return &Collector{units: units, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Units come newest first, so paging stops at the first one past cutoff.
	for offset := 0; ; offset += collectPageSize {
		page, err := c.units.List(ctx, store.UnitFilter{Limit: collectPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list units")
		}
		for _, u := range page {
			if u.CreatedAt.Before(cutoff) {
				return c.finish(ctx, snap)
			}
			if u.IsParent {
				continue
			}
			snap.add(u)
		}
		if len(page) < collectPageSize {
			break
		}
	}
	return c.finish(ctx, snap)
}

func (c *Collector) finish(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	stuck, err := c.units.FindStuck(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: find stuck units")
	}
	for _, u := range stuck {
		snap.StuckUnits = append(snap.StuckUnits, u.ID)
	}

	if finished := snap.UnitsCompleted + snap.UnitsFailed; finished > 0 {
		snap.FailRate = float64(snap.UnitsFailed) / float64(finished)
	}
	if snap.RecordsProcessed > 0 {
		snap.RecordErrorRate = float64(snap.RecordErrors) / float64(snap.RecordsProcessed)
	}
	return snap, nil
}

func (s *Snapshot) add(u model.IngestionUnit) {
	s.UnitsTotal++
	switch u.Status {
	case model.UnitPending:
		s.UnitsPending++
	case model.UnitProcessing:
		s.UnitsProcessing++
	case model.UnitCompleted:
		s.UnitsCompleted++
	case model.UnitFailed:
		s.UnitsFailed++
	}
	s.RecordsProcessed += u.ProcessedRecords
	s.RecordErrors += u.ErrorCount
}
