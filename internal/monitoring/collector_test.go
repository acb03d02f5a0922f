package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

type fakeUnits struct {
	units   []model.IngestionUnit
	stuck   []model.IngestionUnit
	listErr error
	calls   int
}

func (f *fakeUnits) List(_ context.Context, filter store.UnitFilter) ([]model.IngestionUnit, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if filter.Offset >= len(f.units) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(f.units))
	return f.units[filter.Offset:end], nil
}

func (f *fakeUnits) FindStuck(context.Context) ([]model.IngestionUnit, error) {
	return f.stuck, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func unit(id int64, status model.UnitStatus, age time.Duration, processed, errs int) model.IngestionUnit {
	return model.IngestionUnit{
		ID:               id,
		Status:           status,
		CreatedAt:        fixedNow.Add(-age),
		ProcessedRecords: processed,
		ErrorCount:       errs,
	}
}

func newTestCollector(src UnitSource) *Collector {
	c := NewCollector(src)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_CountsLeafUnitsInWindow(t *testing.T) {
	parent := unit(1, model.UnitPending, time.Hour, 0, 0)
	parent.IsParent = true
	src := &fakeUnits{
		units: []model.IngestionUnit{
			parent,
			unit(2, model.UnitCompleted, time.Hour, 100, 10),
			unit(3, model.UnitFailed, 2*time.Hour, 0, 0),
			unit(4, model.UnitProcessing, 3*time.Hour, 50, 0),
			unit(5, model.UnitPending, 4*time.Hour, 0, 0),
			unit(6, model.UnitFailed, 48*time.Hour, 0, 0),
		},
		stuck: []model.IngestionUnit{unit(4, model.UnitProcessing, 3*time.Hour, 50, 0)},
	}

	snap, err := newTestCollector(src).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.UnitsTotal)
	assert.Equal(t, 1, snap.UnitsCompleted)
	assert.Equal(t, 1, snap.UnitsFailed)
	assert.Equal(t, 1, snap.UnitsProcessing)
	assert.Equal(t, 1, snap.UnitsPending)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)
	assert.Equal(t, 150, snap.RecordsProcessed)
	assert.Equal(t, 10, snap.RecordErrors)
	assert.InDelta(t, 10.0/150.0, snap.RecordErrorRate, 1e-9)
	assert.Equal(t, []int64{4}, snap.StuckUnits)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_PagesUntilCutoff(t *testing.T) {
	var units []model.IngestionUnit
	for i := range collectPageSize + 10 {
		units = append(units, unit(int64(i+1), model.UnitCompleted, time.Minute, 1, 0))
	}
	src := &fakeUnits{units: units}

	snap, err := newTestCollector(src).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, collectPageSize+10, snap.UnitsCompleted)
	assert.Equal(t, 2, src.calls)
	assert.Zero(t, snap.FailRate)
}

func TestCollector_ListError(t *testing.T) {
	src := &fakeUnits{listErr: errors.New("db down")}
	_, err := newTestCollector(src).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list units")
}
