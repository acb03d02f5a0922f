package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/metrics"
)

// Checker runs periodic health checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run checks on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			if _, _, err := c.Check(ctx); err != nil {
				log.Error("health check failed", zap.Error(err))
			}
		}
	}
}

// Check collects one snapshot, sends any alerts it triggers and returns it.
func (c *Checker) Check(ctx context.Context) (*Snapshot, []Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, nil, err
	}
	metrics.UnitsStuck.Set(float64(len(snap.StuckUnits)))

	alerts := c.alerter.Evaluate(snap)
	c.alerter.SendAlerts(ctx, alerts)
	return snap, alerts, nil
}
