// Package ingest claims ingestion units and reconciles their records into
// the entity store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/metrics"
	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/provider"
	"github.com/sells-group/mailhaus/internal/reconcile"
	"github.com/sells-group/mailhaus/internal/resilience"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/tracker"
	"github.com/sells-group/mailhaus/pkg/radar"
)

// ErrNoProvider is returned for a criteria unit when no provider client is
// configured.
var ErrNoProvider = eris.New("ingest: no provider client configured")

// RecordLoader reads every record of a batch file.
type RecordLoader interface {
	ReadRecords(ctx context.Context, location string) ([]provider.Record, error)
}

// Options tune a Worker.
type Options struct {
	WorkerID      string
	ProgressEvery int
	PollInterval  time.Duration
	// PageSize bounds each provider page fetched for a criteria unit.
	PageSize int
	Retry    resilience.RetryConfig
}

// OptionsFromConfig builds Options from the worker and retry sections.
func OptionsFromConfig(w config.WorkerConfig, r config.RetryConfig) Options {
	return Options{
		WorkerID:      w.ID,
		ProgressEvery: w.ProgressEvery,
		PollInterval:  w.PollInterval(),
		Retry:         resilience.FromConfig(r),
	}
}

func (o Options) withDefaults() Options {
	if o.WorkerID == "" {
		o.WorkerID = "worker"
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.PageSize <= 0 || o.PageSize > radar.MaxPageSize {
		o.PageSize = radar.MaxPageSize
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	return o
}

// Summary is the outcome of one unit run.
type Summary struct {
	UnitID int64            `json:"unit_id"`
	Status model.UnitStatus `json:"status"`
	Counts model.UnitCounts `json:"counts"`
	// Abandoned is set when the worker's claim was voided mid-run, for
	// example by an operator reset. The run's final counts were not written.
	Abandoned bool `json:"abandoned,omitempty"`
}

// Worker processes one claimed unit at a time.
type Worker struct {
	store   store.Store
	tracker *tracker.Tracker
	engine  *reconcile.Engine
	files   RecordLoader
	radar   radar.Client
	opts    Options
	log     *zap.Logger
}

// NewWorker creates a Worker. rc may be nil when only file units are
// expected; criteria units then fail with ErrNoProvider.
func NewWorker(st store.Store, tr *tracker.Tracker, eng *reconcile.Engine, files RecordLoader, rc radar.Client, opts Options) *Worker {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "ingest"), zap.String("worker_id", opts.WorkerID))
	return &Worker{
		store:   st,
		tracker: tr,
		engine:  eng,
		files:   files,
		radar:   rc,
		opts:    opts,
		log:     log,
	}
}

// RunOnce claims and processes the next unit. It reports false when no
// unit was pending.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	u, err := w.tracker.Claim(ctx, w.opts.WorkerID)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}
	metrics.UnitsClaimed.Inc()
	if _, err := w.Process(ctx, u); err != nil {
		return true, err
	}
	return true, nil
}

// Run polls for units until ctx is done. Unit failures are recorded on the
// unit and do not stop the loop; store errors are logged and retried after
// the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.Duration("poll_interval", w.opts.PollInterval))
	for {
		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return nil
		}
		if err != nil {
			w.log.Error("worker iteration failed", zap.Error(err))
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return nil
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// Process runs a claimed unit to a terminal state. The whole payload is
// loaded before any record is written; a payload that cannot be loaded
// fails the unit with nothing applied. Each record is reconciled in its own
// transaction, so a bad record is counted and logged without affecting
// the others. If ctx is cancelled the unit is left PROCESSING for stuck
// detection and reset.
func (w *Worker) Process(ctx context.Context, u *model.IngestionUnit) (*Summary, error) {
	start := time.Now()
	metrics.UnitsInFlight.Inc()
	defer metrics.UnitsInFlight.Dec()

	log := w.log.With(zap.Int64("unit_id", u.ID), zap.String("kind", string(u.Kind)))
	sum := &Summary{UnitID: u.ID, Status: model.UnitProcessing}

	records, err := w.load(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		return w.fail(ctx, u, sum, err, start)
	}
	sum.Counts.Total = len(records)
	log.Info("payload loaded", zap.Int("records", len(records)))
	if len(records) > 0 {
		if unknown := provider.UnknownFields(records[0]); len(unknown) > 0 {
			log.Info("ignoring unmapped fields", zap.Strings("fields", unknown))
		}
	}

	var pending []model.UnitLog
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			w.flush(context.WithoutCancel(ctx), &pending)
			return sum, err
		}

		recStart := time.Now()
		res, err := w.reconcile(ctx, rec)
		if err != nil && ctx.Err() != nil {
			w.flush(context.WithoutCancel(ctx), &pending)
			return sum, ctx.Err()
		}
		sum.Counts.Processed++
		metrics.RecordResult(err == nil, time.Since(recStart).Seconds())

		if err != nil {
			sum.Counts.Errors++
			pending = append(pending, w.recordFailure(log, u.ID, rec, err))
		} else {
			sum.Counts.Success++
			pending = append(pending, issueLogs(u.ID, res)...)
		}

		if sum.Counts.Processed%w.opts.ProgressEvery == 0 && sum.Counts.Processed < sum.Counts.Total {
			ok, err := w.progress(ctx, u.Claim(), sum.Counts, &pending)
			if err != nil {
				return sum, err
			}
			if !ok {
				log.Warn("claim lost mid-run; abandoning", zap.Int("processed", sum.Counts.Processed))
				sum.Abandoned = true
				return sum, nil
			}
			log.Debug("progress recorded",
				zap.Int("processed", sum.Counts.Processed),
				zap.Int("total", sum.Counts.Total),
			)
		}
	}

	w.flush(ctx, &pending)
	done, err := w.tracker.Complete(ctx, u.Claim(), sum.Counts)
	if err != nil {
		return sum, err
	}
	if !done {
		log.Warn("claim lost before completion; discarding run", zap.Int("processed", sum.Counts.Processed))
		sum.Abandoned = true
		return sum, nil
	}
	sum.Status = model.UnitCompleted
	w.finished(ctx, u, sum, start)
	return sum, nil
}

func (w *Worker) load(ctx context.Context, u *model.IngestionUnit) ([]provider.Record, error) {
	switch u.Kind {
	case model.UnitKindFile:
		return w.files.ReadRecords(ctx, u.SourcePath)
	case model.UnitKindCriteria:
		return w.fetchCriteria(ctx, u)
	default:
		return nil, eris.Errorf("ingest: unknown unit kind %q", u.Kind)
	}
}

// fetchCriteria pages the provider's result set over the unit's window. A
// single criteria unit with no size set is fetched until the provider runs
// out of results.
func (w *Worker) fetchCriteria(ctx context.Context, u *model.IngestionUnit) ([]provider.Record, error) {
	if w.radar == nil {
		return nil, ErrNoProvider
	}
	var records []provider.Record
	start, remaining := u.Offset, u.Size
	for u.Size == 0 || remaining > 0 {
		limit := w.opts.PageSize
		if u.Size > 0 {
			limit = min(limit, remaining)
		}
		page, err := w.radar.Properties(ctx, u.Criteria, start, limit)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: fetch properties at %d", start)
		}
		for _, obj := range page.Results {
			records = append(records, provider.FromJSON(obj))
		}
		n := len(page.Results)
		if n == 0 {
			break
		}
		start += n
		remaining -= n
		if u.Size == 0 && n < limit {
			break
		}
	}
	return records, nil
}

// reconcile normalizes rec and applies it in its own transaction, retrying
// serialization failures, deadlocks and dropped connections with a fresh
// transaction.
func (w *Worker) reconcile(ctx context.Context, rec provider.Record) (*reconcile.Result, error) {
	d, err := w.engine.Prepare(rec)
	if err != nil {
		return nil, err
	}
	retry := w.opts.Retry
	retry.ShouldRetry = resilience.AnyOf(store.IsRetryable, resilience.IsTransient)
	retry.OnRetry = resilience.RetryLogger("ingest: reconcile record", zap.String("radar_id", d.RadarID()))
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*reconcile.Result, error) {
		var res *reconcile.Result
		err := w.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			res, err = w.engine.Apply(ctx, tx, d)
			return err
		})
		return res, err
	})
}

func (w *Worker) recordFailure(log *zap.Logger, unitID int64, rec provider.Record, err error) model.UnitLog {
	class := reconcile.Classify(err)
	radarID := rec[provider.FieldRadarID]
	var re *reconcile.RecordError
	if errors.As(err, &re) && re.RadarID != "" {
		radarID = re.RadarID
	}
	metrics.RecordIssue(class)
	log.Warn("record failed",
		zap.String("radar_id", radarID),
		zap.String("class", class),
		zap.Error(err),
	)
	return model.UnitLog{
		UnitID:     unitID,
		Level:      model.LogError,
		RadarID:    radarID,
		ErrorClass: class,
		Message:    err.Error(),
	}
}

// issueLogs turns field problems on an accepted record into warnings.
func issueLogs(unitID int64, res *reconcile.Result) []model.UnitLog {
	if res == nil || len(res.Issues) == 0 {
		return nil
	}
	logs := make([]model.UnitLog, 0, len(res.Issues))
	for _, is := range res.Issues {
		metrics.RecordIssue(is.Class)
		logs = append(logs, model.UnitLog{
			UnitID:     unitID,
			Level:      model.LogWarn,
			RadarID:    res.RadarID,
			ErrorClass: is.Class,
			Message:    fmt.Sprintf("%s %q nulled: %s", is.Field, is.Value, is.Message),
		})
	}
	return logs
}

func (w *Worker) progress(ctx context.Context, claim model.Claim, c model.UnitCounts, pending *[]model.UnitLog) (bool, error) {
	w.flush(ctx, pending)
	return w.tracker.RecordProgress(ctx, claim, c)
}

// flush writes buffered unit logs. A failed write is logged and dropped; it
// never fails the unit.
func (w *Worker) flush(ctx context.Context, pending *[]model.UnitLog) {
	if len(*pending) == 0 {
		return
	}
	if err := w.tracker.AppendLogs(ctx, *pending); err != nil {
		w.log.Warn("dropping unit logs", zap.Int("lines", len(*pending)), zap.Error(err))
	}
	*pending = (*pending)[:0]
}

func (w *Worker) fail(ctx context.Context, u *model.IngestionUnit, sum *Summary, cause error, start time.Time) (*Summary, error) {
	reason := cause.Error()
	logs := []model.UnitLog{{
		UnitID:  u.ID,
		Level:   model.LogError,
		Message: "payload load failed: " + reason,
	}}
	w.flush(ctx, &logs)
	done, err := w.tracker.Fail(ctx, u.Claim(), sum.Counts, reason)
	if err != nil {
		return sum, err
	}
	if !done {
		w.log.Warn("claim lost before failure was recorded", zap.Int64("unit_id", u.ID))
		sum.Abandoned = true
		return sum, nil
	}
	sum.Status = model.UnitFailed
	w.finished(ctx, u, sum, start)
	return sum, nil
}

// finished records metrics and re-derives the parent of a child unit.
func (w *Worker) finished(ctx context.Context, u *model.IngestionUnit, sum *Summary, start time.Time) {
	metrics.RecordUnitFinished(string(u.Kind), string(sum.Status), time.Since(start).Seconds())
	if u.ParentID == nil {
		return
	}
	if _, err := w.tracker.RecomputeParent(ctx, *u.ParentID); err != nil {
		w.log.Error("parent recompute failed",
			zap.Int64("unit_id", u.ID),
			zap.Int64("parent_id", *u.ParentID),
			zap.Error(err),
		)
	}
}
