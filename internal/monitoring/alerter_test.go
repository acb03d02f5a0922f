package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailhaus/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		RecordErrorThreshold: 0.10,
	}
}

func TestAlerter_Evaluate_Healthy(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &Snapshot{
		UnitsCompleted:   19,
		UnitsFailed:      1,
		FailRate:         0.05,
		RecordsProcessed: 1000,
		RecordErrors:     5,
		RecordErrorRate:  0.005,
		LookbackHours:    24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StuckUnits(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{StuckUnits: []int64{7, 9}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStuckUnits, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 unit(s) stuck")
	assert.Equal(t, []int64{7, 9}, alerts[0].Details["unit_ids"])
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &Snapshot{UnitsCompleted: 6, UnitsFailed: 4, FailRate: 0.4, LookbackHours: 24}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnitFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_FailureRateNeedsVolume(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &Snapshot{UnitsCompleted: 1, UnitsFailed: 2, FailRate: 2.0 / 3.0}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RecordErrorRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	snap := &Snapshot{RecordsProcessed: 100, RecordErrors: 30, RecordErrorRate: 0.3, LookbackHours: 6}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRecordErrorRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertStuckUnits, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStuckUnits}, {Type: AlertStuckUnits}})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertUnitFailureRate}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertStuckUnits, Message: "stuck"}}))
	assert.Zero(t, a.SendAlerts(context.Background(), nil))
}
