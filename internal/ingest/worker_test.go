package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/provider"
	"github.com/sells-group/mailhaus/internal/reconcile"
	"github.com/sells-group/mailhaus/internal/source"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/tracker"
	"github.com/sells-group/mailhaus/pkg/radar"
	"github.com/sells-group/mailhaus/pkg/radar/mocks"
)

const txCriteria = `{"Criteria":[{"name":"State","value":["TX"]}]}`

type fixture struct {
	st *store.SQLiteStore
	tr *tracker.Tracker
	w  *Worker
}

func newFixture(t *testing.T, rc radar.Client, opts Options) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	tr := tracker.New(st, tracker.Config{
		PendingThreshold:    time.Hour,
		ProcessingThreshold: 3 * time.Hour,
		BatchSize:           2,
	})
	if opts.WorkerID == "" {
		opts.WorkerID = "test-worker"
	}
	opts.Retry.MaxAttempts = 1
	eng := reconcile.New("propertyradar", reconcile.OwnerAppend)
	w := NewWorker(st, tr, eng, source.NewLoader(source.FTPOptions{}), rc, opts)
	return &fixture{st: st, tr: tr, w: w}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *fixture) submitFile(t *testing.T, path string) *model.IngestionUnit {
	t.Helper()
	u, err := f.tr.SubmitFile(context.Background(), path, tracker.SubmitOptions{})
	require.NoError(t, err)
	return u
}

func (f *fixture) unit(t *testing.T, id int64) *model.IngestionUnit {
	t.Helper()
	u, err := f.tr.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) logs(t *testing.T, id int64) []model.UnitLog {
	t.Helper()
	logs, err := f.tr.Logs(context.Background(), id, 100, 0)
	require.NoError(t, err)
	return logs
}

const threeLeads = `RadarID,Address,City,State,ZipFive,Owner,FirstAmount,FirstRate
P1,1 Main St,Austin,TX,78701,JANE DOE,250000,3.5
P2,2 Oak Ave,Austin,TX,78702,JOHN ROE,abc,4.1
P3,3 Elm Rd,Dallas,TX,75201,ANN POE,"$180,000",5
`

func TestProcess_FieldIssuesKeepRecord(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.submitFile(t, writeFile(t, "leads.csv", threeLeads))

	worked, err := f.w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	got := f.unit(t, u.ID)
	assert.Equal(t, model.UnitCompleted, got.Status)
	assert.Equal(t, model.UnitCounts{Total: 3, Processed: 3, Success: 3}, got.Counts())
	assert.NotNil(t, got.ProcessedAt)

	logs := f.logs(t, u.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogWarn, logs[0].Level)
	assert.Equal(t, "P2", logs[0].RadarID)
	assert.Equal(t, provider.ClassTypeCoercion, logs[0].ErrorClass)
	assert.Contains(t, logs[0].Message, provider.FieldFirstAmount)

	p, err := f.st.GetProperty(ctx, "P2", model.ActiveOnly)
	require.NoError(t, err)
	require.NotNil(t, p)
	loans, err := f.st.ListLoans(ctx, p.ID, model.ActiveOnly)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Nil(t, loans[0].FirstAmount, "bad amount is nulled, not zeroed")
}

func TestProcess_MissingIdentifierCountsAsError(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.submitFile(t, writeFile(t, "leads.csv",
		"RadarID,Address,State\nP1,1 Main St,TX\n,2 Oak Ave,TX\nP3,3 Elm Rd,TX\n"))

	_, err := f.w.RunOnce(ctx)
	require.NoError(t, err)

	got := f.unit(t, u.ID)
	assert.Equal(t, model.UnitCompleted, got.Status)
	assert.Equal(t, model.UnitCounts{Total: 3, Processed: 3, Success: 2, Errors: 1}, got.Counts())

	logs := f.logs(t, u.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogError, logs[0].Level)
	assert.Equal(t, reconcile.ClassMissingIdentifier, logs[0].ErrorClass)

	p, err := f.st.GetProperty(ctx, "P3", model.ActiveOnly)
	require.NoError(t, err)
	assert.NotNil(t, p, "records after a failure are still applied")
}

func TestProcess_UnreadablePayloadFailsUnit(t *testing.T) {
	f := newFixture(t, nil, Options{})
	u := f.submitFile(t, filepath.Join(t.TempDir(), "missing.csv"))

	worked, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	got := f.unit(t, u.ID)
	assert.Equal(t, model.UnitFailed, got.Status)
	assert.NotEmpty(t, got.ErrorDetails)
	assert.Equal(t, 0, got.SuccessCount)

	logs := f.logs(t, u.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogError, logs[0].Level)
	assert.Contains(t, logs[0].Message, "payload load failed")
}

func TestProcess_ReingestIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	path := writeFile(t, "leads.csv", "RadarID,State,FirstAmount\nP1,TX,100000\n")
	f.submitFile(t, path)
	f.submitFile(t, path)

	for range 2 {
		worked, err := f.w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, worked)
	}

	p, err := f.st.GetProperty(ctx, "P1", model.IncludeInactive)
	require.NoError(t, err)
	require.NotNil(t, p)
	loans, err := f.st.ListLoans(ctx, p.ID, model.IncludeInactive)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestProcess_ReingestArchivesChangedLoan(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	path := writeFile(t, "leads.csv", "RadarID,State,FirstAmount,FirstRate\nP1,TX,100000,3.5\n")
	f.submitFile(t, path)
	worked, err := f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	require.NoError(t, os.WriteFile(path, []byte("RadarID,State,FirstAmount,FirstRate\nP1,TX,120000,4.25\n"), 0o600))
	f.submitFile(t, path)
	worked, err = f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	p, err := f.st.GetProperty(ctx, "P1", model.ActiveOnly)
	require.NoError(t, err)
	require.NotNil(t, p)
	loans, err := f.st.ListLoans(ctx, p.ID, model.IncludeInactive)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.NotNil(t, loans[0].FirstAmount)
	assert.InDelta(t, 120000.0, *loans[0].FirstAmount, 0.001)

	history, err := f.st.ListLoanHistory(ctx, loans[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	old := history[0]
	assert.Equal(t, loans[0].ID, old.ID)
	assert.Equal(t, p.ID, old.PropertyID)
	require.NotNil(t, old.FirstAmount)
	assert.InDelta(t, 100000.0, *old.FirstAmount, 0.001)
	assert.InDelta(t, 3.5, old.FirstRate, 0.001)
	assert.True(t, old.IsActive)
	assert.False(t, old.ArchivedAt.IsZero())
}

func TestProcess_AbandonsUnitResetMidRun(t *testing.T) {
	f := newFixture(t, nil, Options{ProgressEvery: 1})
	ctx := context.Background()
	u := f.submitFile(t, writeFile(t, "leads.csv", "RadarID,State\nP1,TX\nP2,TX\nP3,TX\n"))

	claimed, err := f.tr.Claim(ctx, "test-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = f.tr.Reset(ctx, u.ID, true)
	require.NoError(t, err)

	sum, err := f.w.Process(ctx, claimed)
	require.NoError(t, err)
	assert.True(t, sum.Abandoned)
	assert.Equal(t, 1, sum.Counts.Processed)

	got := f.unit(t, u.ID)
	assert.Equal(t, model.UnitPending, got.Status, "the reset unit is left for the next claim")
	assert.Zero(t, got.ProcessedRecords)
}

func TestProcess_StaleClaimCannotCompleteReclaimedUnit(t *testing.T) {
	f := newFixture(t, nil, Options{ProgressEvery: 100})
	ctx := context.Background()
	u := f.submitFile(t, writeFile(t, "leads.csv", "RadarID,State\nP1,TX\nP2,TX\nP3,TX\n"))

	stale, err := f.tr.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, stale)
	_, err = f.tr.Reset(ctx, u.ID, true)
	require.NoError(t, err)
	current, err := f.tr.Claim(ctx, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, current)
	require.NotEqual(t, stale.ClaimToken, current.ClaimToken)

	sum, err := f.w.Process(ctx, stale)
	require.NoError(t, err)
	assert.True(t, sum.Abandoned)
	assert.NotEqual(t, model.UnitCompleted, sum.Status)

	got := f.unit(t, u.ID)
	assert.Equal(t, model.UnitProcessing, got.Status, "the second claim still owns the unit")
	assert.Equal(t, "worker-b", got.ClaimedBy)
	assert.Equal(t, current.ClaimToken, got.ClaimToken)
	assert.Zero(t, got.ProcessedRecords)
	assert.Nil(t, got.ProcessedAt)
}

func TestProcess_CancelledLeavesUnitProcessing(t *testing.T) {
	f := newFixture(t, nil, Options{})
	u := f.submitFile(t, writeFile(t, "leads.csv", "RadarID,State\nP1,TX\n"))

	claimed, err := f.tr.Claim(context.Background(), "test-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.w.Process(ctx, claimed)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, model.UnitProcessing, f.unit(t, u.ID).Status)
}

func TestRunOnce_NothingPending(t *testing.T) {
	f := newFixture(t, nil, Options{})
	worked, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestProcess_CriteriaWithoutProviderFails(t *testing.T) {
	f := newFixture(t, nil, Options{})
	u, _, err := f.tr.SubmitCriteria(context.Background(), json.RawMessage(txCriteria), 1, tracker.SubmitOptions{})
	require.NoError(t, err)

	_, err = f.w.RunOnce(context.Background())
	require.NoError(t, err)

	got := f.unit(t, u.ID)
	assert.Equal(t, model.UnitFailed, got.Status)
	assert.Contains(t, got.ErrorDetails, "no provider client")
}

func lead(id string) map[string]any {
	return map[string]any{"RadarID": id, "State": "TX", "FirstAmount": json.Number("90000")}
}

func TestProcess_CriteriaChildrenRecomputeParent(t *testing.T) {
	rc := mocks.NewMockClient(t)
	rc.On("Properties", mock.Anything, mock.Anything, 0, 2).
		Return(&radar.PropertiesResponse{Results: []map[string]any{lead("C1"), lead("C2")}}, nil).Once()
	rc.On("Properties", mock.Anything, mock.Anything, 2, 1).
		Return(&radar.PropertiesResponse{Results: []map[string]any{lead("C3")}}, nil).Once()

	f := newFixture(t, rc, Options{})
	ctx := context.Background()
	parent, children, err := f.tr.SubmitCriteria(ctx, json.RawMessage(txCriteria), 3, tracker.SubmitOptions{Name: "tx"})
	require.NoError(t, err)
	require.Len(t, children, 2)

	_, err = f.w.RunOnce(ctx)
	require.NoError(t, err)
	mid := f.unit(t, parent.ID)
	assert.Equal(t, model.UnitPending, mid.Status, "one batch done, one still queued")
	assert.Equal(t, 2, mid.SuccessCount)

	_, err = f.w.RunOnce(ctx)
	require.NoError(t, err)

	got := f.unit(t, parent.ID)
	assert.Equal(t, model.UnitCompleted, got.Status)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 3, got.ProcessedRecords)
	assert.NotNil(t, got.ProcessedAt)

	for _, id := range []string{"C1", "C2", "C3"} {
		p, err := f.st.GetProperty(ctx, id, model.ActiveOnly)
		require.NoError(t, err)
		assert.NotNil(t, p, id)
	}
}

func TestFetchCriteria_UnsizedPagesUntilShortPage(t *testing.T) {
	rc := mocks.NewMockClient(t)
	rc.On("Properties", mock.Anything, mock.Anything, 0, 2).
		Return(&radar.PropertiesResponse{Results: []map[string]any{lead("A"), lead("B")}}, nil).Once()
	rc.On("Properties", mock.Anything, mock.Anything, 2, 2).
		Return(&radar.PropertiesResponse{Results: []map[string]any{lead("C")}}, nil).Once()

	f := newFixture(t, rc, Options{PageSize: 2})
	records, err := f.w.fetchCriteria(context.Background(), &model.IngestionUnit{
		Kind:     model.UnitKindCriteria,
		Criteria: json.RawMessage(txCriteria),
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "90000", records[2]["FirstAmount"])
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{PageSize: 5000}.withDefaults()
	assert.Equal(t, "worker", o.WorkerID)
	assert.Equal(t, 50, o.ProgressEvery)
	assert.Equal(t, 2*time.Second, o.PollInterval)
	assert.Equal(t, radar.MaxPageSize, o.PageSize)
	assert.Equal(t, 3, o.Retry.MaxAttempts)
}
