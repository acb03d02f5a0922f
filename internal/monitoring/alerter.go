package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/metrics"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStuckUnits      AlertType = "stuck_units"
	AlertUnitFailureRate AlertType = "unit_failure_rate"
	AlertRecordErrorRate AlertType = "record_error_rate"
)

// minFinished is the number of finished units needed before the failure rate
// is meaningful.
const minFinished = 5

// Alert is one escalation sent to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots against configured thresholds and posts
// breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts snap triggers.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if n := len(snap.StuckUnits); n > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckUnits,
			Severity: "high",
			Message:  fmt.Sprintf("%d unit(s) stuck past their threshold; reset or escalate", n),
			Details: map[string]any{
				"unit_ids": snap.StuckUnits,
			},
			Timestamp: now,
		})
	}

	finished := snap.UnitsCompleted + snap.UnitsFailed
	if finished >= minFinished && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnitFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Unit failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.UnitsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.UnitsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RecordErrorThreshold > 0 && snap.RecordErrorRate > a.cfg.RecordErrorThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRecordErrorRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Record error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d records in last %dh)",
				snap.RecordErrorRate*100, a.cfg.RecordErrorThreshold*100,
				snap.RecordErrors, snap.RecordsProcessed, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.RecordErrorRate,
				"threshold":  a.cfg.RecordErrorThreshold,
				"errors":     snap.RecordErrors,
				"processed":  snap.RecordsProcessed,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts alerts to the configured webhook and returns how many
// were delivered. Without a webhook URL alerts are only logged.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			log.Warn(alert.Message, zap.String("type", string(alert.Type)))
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			log.Error("failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		log.Info("alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		metrics.AlertsSent.WithLabelValues(string(alert.Type)).Inc()
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
