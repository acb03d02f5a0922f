package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

const txCriteria = `{"Criteria":[{"name":"State","value":["TX"]}]}`

func newTestTracker(t *testing.T) (*Tracker, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, FromConfig(config.TrackerConfig{BatchSize: 500})), st
}

func TestFromConfig_Defaults(t *testing.T) {
	cfg := FromConfig(config.TrackerConfig{})
	assert.Equal(t, time.Hour, cfg.PendingThreshold)
	assert.Equal(t, 3*time.Hour, cfg.ProcessingThreshold)
	assert.Equal(t, 500, cfg.BatchSize)
}

func TestSubmitFile(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	u, err := tr.SubmitFile(ctx, "/data/leads/tx-2026-10.csv", SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.UnitPending, u.Status)
	assert.Equal(t, model.UnitKindFile, u.Kind)
	assert.Equal(t, "tx-2026-10.csv", u.Name)

	_, err = tr.SubmitFile(ctx, "", SubmitOptions{})
	assert.True(t, errors.Is(err, ErrInvalidSubmission))
}

func TestSubmitCriteria_Single(t *testing.T) {
	tr, _ := newTestTracker(t)
	prio := 3

	u, children, err := tr.SubmitCriteria(context.Background(), json.RawMessage(txCriteria), 120,
		SubmitOptions{Name: "tx", Priority: &prio, BatchNumber: 4})
	require.NoError(t, err)
	assert.Nil(t, children)
	assert.False(t, u.IsParent)
	assert.Equal(t, 120, u.PropertiesCount)
	assert.Equal(t, 4, u.BatchNumber)
	assert.Equal(t, 3, u.Priority)
}

func TestSubmitCriteria_SplitsIntoBatches(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	parent, children, err := tr.SubmitCriteria(ctx, json.RawMessage(txCriteria), 1200, SubmitOptions{Name: "tx"})
	require.NoError(t, err)
	assert.True(t, parent.IsParent)
	require.Len(t, children, 3)
	assert.Equal(t, []int{0, 500, 1000}, []int{children[0].Offset, children[1].Offset, children[2].Offset})
	assert.Equal(t, []int{500, 500, 200}, []int{children[0].Size, children[1].Size, children[2].Size})
	assert.Equal(t, "tx (batch 3/3)", children[2].Name)

	stored, err := tr.List(ctx, store.UnitFilter{ParentID: &parent.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestSubmitCriteria_RejectsBadEnvelope(t *testing.T) {
	tr, _ := newTestTracker(t)

	for _, raw := range []string{``, `[]`, `{"Criteria":[]}`, `{"Criteria":[{"value":1}]}`, `{nope`} {
		_, _, err := tr.SubmitCriteria(context.Background(), json.RawMessage(raw), 10, SubmitOptions{})
		assert.True(t, errors.Is(err, ErrInvalidSubmission), raw)
	}
}

func TestDeriveParent_SumsChildren(t *testing.T) {
	children := []model.IngestionUnit{
		{Status: model.UnitCompleted, PropertiesCount: 10, ProcessedRecords: 10, SuccessCount: 10},
		{Status: model.UnitCompleted, PropertiesCount: 20, ProcessedRecords: 20, SuccessCount: 20},
		{Status: model.UnitCompleted, PropertiesCount: 30, ProcessedRecords: 30, SuccessCount: 25, ErrorCount: 5},
	}
	s := DeriveParent(children)
	assert.Equal(t, model.UnitCompleted, s.Status)
	assert.Equal(t, 60, s.Counts.Total)
	assert.Equal(t, 55, s.Counts.Success)
	assert.Equal(t, 5, s.Counts.Errors)
	assert.Empty(t, s.Details)
}

func TestDeriveParent_Status(t *testing.T) {
	u := func(s model.UnitStatus) model.IngestionUnit { return model.IngestionUnit{Status: s} }
	tests := []struct {
		name     string
		children []model.IngestionUnit
		want     model.UnitStatus
		details  string
	}{
		{"no children", nil, model.UnitPending, ""},
		{"one failed", []model.IngestionUnit{u(model.UnitCompleted), u(model.UnitFailed), u(model.UnitCompleted)}, model.UnitCompleted, "1 of 3 batches failed"},
		{"failed outranks processing", []model.IngestionUnit{u(model.UnitProcessing), u(model.UnitFailed)}, model.UnitCompleted, "1 of 2 batches failed"},
		{"all completed", []model.IngestionUnit{u(model.UnitCompleted), u(model.UnitCompleted)}, model.UnitCompleted, ""},
		{"processing", []model.IngestionUnit{u(model.UnitCompleted), u(model.UnitProcessing), u(model.UnitPending)}, model.UnitProcessing, ""},
		{"pending", []model.IngestionUnit{u(model.UnitCompleted), u(model.UnitPending)}, model.UnitPending, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DeriveParent(tt.children)
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, tt.details, s.Details)
		})
	}
}

func TestRecomputeParent_Stored(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()

	parent, children, err := tr.SubmitCriteria(ctx, json.RawMessage(txCriteria), 1100, SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, children, 3)

	claims := claimAll(t, tr, len(children))
	_, err = tr.Complete(ctx, claims[children[0].ID], model.UnitCounts{Total: 500, Processed: 500, Success: 500})
	require.NoError(t, err)
	_, err = tr.Fail(ctx, claims[children[1].ID], model.UnitCounts{Total: 500}, "provider returned 500")
	require.NoError(t, err)
	_, err = tr.Complete(ctx, claims[children[2].ID], model.UnitCounts{Total: 100, Processed: 100, Success: 90, Errors: 10})
	require.NoError(t, err)

	state, err := tr.RecomputeParent(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitCompleted, state.Status)
	assert.Contains(t, state.Details, "1 of 3")

	got, err := st.GetUnit(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitCompleted, got.Status)
	assert.Equal(t, 1100, got.PropertiesCount)
	assert.Equal(t, 590, got.SuccessCount)
	assert.Equal(t, 10, got.ErrorCount)
	assert.NotNil(t, got.ProcessedAt)

	_, err = tr.RecomputeParent(ctx, children[0].ID)
	assert.True(t, errors.Is(err, ErrInvalidSubmission))
}

// claimAll claims n units as one worker and indexes the claims by unit.
func claimAll(t *testing.T, tr *Tracker, n int) map[int64]model.Claim {
	t.Helper()
	claims := make(map[int64]model.Claim, n)
	for range n {
		u, err := tr.Claim(context.Background(), "w1")
		require.NoError(t, err)
		require.NotNil(t, u)
		claims[u.ID] = u.Claim()
	}
	return claims
}

func TestComplete_DuplicateTolerated(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)
	claimed, err := tr.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ok, err := tr.Complete(ctx, claimed.Claim(), model.UnitCounts{Total: 3, Processed: 3, Success: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Complete(ctx, claimed.Claim(), model.UnitCounts{Total: 3, Processed: 3, Success: 3})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.Fail(ctx, claimed.Claim(), model.UnitCounts{}, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := tr.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitCompleted, got.Status)
	assert.Empty(t, got.ErrorDetails)

	_, err = tr.Complete(ctx, model.Claim{UnitID: 999, Token: "x"}, model.UnitCounts{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestComplete_UnclaimedUnitRefused(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)

	ok, err := tr.Complete(ctx, u.Claim(), model.UnitCounts{Total: 3, Processed: 3, Success: 3})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.RecordProgress(ctx, u.Claim(), model.UnitCounts{Total: 3, Processed: 1, Success: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := tr.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitPending, got.Status)
	assert.Equal(t, model.UnitCounts{}, got.Counts())
	assert.Nil(t, got.ProcessedAt)
}

func TestFail_StaleClaimAfterReset(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)

	first, err := tr.Claim(ctx, "w1")
	require.NoError(t, err)
	_, err = tr.Reset(ctx, u.ID, true)
	require.NoError(t, err)
	second, err := tr.Claim(ctx, "w1")
	require.NoError(t, err)

	ok, err := tr.Fail(ctx, first.Claim(), model.UnitCounts{Total: 3, Processed: 3, Errors: 3}, "stale")
	require.NoError(t, err)
	assert.False(t, ok, "same worker id, earlier claim")

	got, err := tr.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitProcessing, got.Status)
	assert.Empty(t, got.ErrorDetails)

	ok, err = tr.Complete(ctx, second.Claim(), model.UnitCounts{Total: 3, Processed: 3, Success: 3})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProgress(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)
	claimed, err := tr.Claim(ctx, "w1")
	require.NoError(t, err)

	ok, err := tr.RecordProgress(ctx, claimed.Claim(), model.UnitCounts{Total: 200, Processed: 50, Success: 48, Errors: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := tr.Progress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitProcessing, p.Status)
	assert.InDelta(t, 25.0, p.Percent, 0.001)
	assert.Equal(t, 2, p.Errors)

	_, err = tr.Progress(ctx, 404)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPercent(t *testing.T) {
	assert.Zero(t, Percent(5, 0))
	assert.InDelta(t, 50.0, Percent(1, 2), 0.001)
	assert.InDelta(t, 100.0, Percent(7, 5), 0.001)
}

func TestReset_Rules(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)
	_, err = tr.Claim(ctx, "w1")
	require.NoError(t, err)

	_, err = tr.Reset(ctx, u.ID, false)
	assert.True(t, errors.Is(err, ErrNotResettable), "fresh PROCESSING unit needs force")

	reset, err := tr.Reset(ctx, u.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.UnitPending, reset.Status)

	claimed, err := tr.Claim(ctx, "w2")
	require.NoError(t, err)
	_, err = tr.Fail(ctx, claimed.Claim(), model.UnitCounts{Total: 3, Processed: 1, Errors: 1}, "parse error")
	require.NoError(t, err)

	reset, err = tr.Reset(ctx, u.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.UnitPending, reset.Status)
	assert.Equal(t, model.UnitCounts{}, reset.Counts())
	assert.Empty(t, reset.ErrorDetails)
	assert.Nil(t, reset.ProcessedAt)

	_, err = tr.Reset(ctx, 404, true)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReset_StuckUnitAllowed(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)
	_, err = tr.Claim(ctx, "w1")
	require.NoError(t, err)

	tr.now = func() time.Time { return time.Now().Add(4 * time.Hour) }
	reset, err := tr.Reset(ctx, u.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.UnitPending, reset.Status)
}

func TestReset_ParentRefusedChildRecomputes(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	parent, children, err := tr.SubmitCriteria(ctx, json.RawMessage(txCriteria), 600, SubmitOptions{})
	require.NoError(t, err)

	_, err = tr.Reset(ctx, parent.ID, true)
	assert.True(t, errors.Is(err, ErrNotResettable))

	claims := claimAll(t, tr, len(children))
	_, err = tr.Fail(ctx, claims[children[0].ID], model.UnitCounts{}, "boom")
	require.NoError(t, err)
	_, err = tr.Complete(ctx, claims[children[1].ID], model.UnitCounts{Total: 100, Processed: 100, Success: 100})
	require.NoError(t, err)
	_, err = tr.RecomputeParent(ctx, parent.ID)
	require.NoError(t, err)

	_, err = tr.Reset(ctx, children[0].ID, false)
	require.NoError(t, err)

	got, err := tr.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UnitPending, got.Status)
	assert.Empty(t, got.ErrorDetails)
	assert.Nil(t, got.ProcessedAt)
}

func TestFindStuck(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)
	_, err = tr.Claim(ctx, "w1")
	require.NoError(t, err)

	stuck, err := tr.FindStuck(ctx)
	require.NoError(t, err)
	assert.Empty(t, stuck, "younger than the processing threshold")

	tr.now = func() time.Time { return time.Now().Add(3*time.Hour + time.Minute) }
	stuck, err = tr.FindStuck(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, u.ID, stuck[0].ID)
	assert.True(t, tr.IsStuck(&stuck[0]))
}

func TestLogs(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	u, err := tr.SubmitFile(ctx, "a.csv", SubmitOptions{})
	require.NoError(t, err)

	require.NoError(t, tr.AppendLogs(ctx, []model.UnitLog{
		{UnitID: u.ID, Level: model.LogInfo, Message: "started"},
		{UnitID: u.ID, Level: model.LogWarn, RadarID: "R1", ErrorClass: "malformed_date", Message: "FirstDate"},
	}))
	logs, err := tr.Logs(ctx, u.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "R1", logs[0].RadarID)

	_, err = tr.Logs(ctx, 404, 10, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadCriteria(t *testing.T) {
	raw, err := LoadCriteria("tx.yaml", []byte("Criteria:\n  - name: State\n    value: [TX]\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Criteria":[{"name":"State","value":["TX"]}]}`, string(raw))
	require.NoError(t, ValidateCriteria(raw))

	raw, err = LoadCriteria("tx.json", []byte("{ \"Criteria\": [ {\"name\": \"State\"} ] }"))
	require.NoError(t, err)
	assert.Equal(t, `{"Criteria":[{"name":"State"}]}`, string(raw))

	_, err = LoadCriteria("bad.json", []byte("{"))
	assert.True(t, errors.Is(err, ErrInvalidSubmission))
}
