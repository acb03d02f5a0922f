package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/campaign"
	"github.com/sells-group/mailhaus/internal/monitoring"
	"github.com/sells-group/mailhaus/internal/reconcile"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/suppression"
	"github.com/sells-group/mailhaus/internal/tracker"
	"github.com/sells-group/mailhaus/pkg/radar"
)

// initStore opens the configured store after validating the settings mode
// needs, and applies the schema.
func initStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func newTracker(st store.Store) *tracker.Tracker {
	return tracker.New(st, tracker.FromConfig(cfg.Tracker))
}

func newChecker(tr *tracker.Tracker) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(tr), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}

func newGate(st store.Store) *suppression.Gate {
	return suppression.New(st, cfg.Suppression.ChunkSize)
}

func newEngine() (*reconcile.Engine, error) {
	policy, err := reconcile.ParseOwnerPolicy(cfg.Reconcile.OwnerPolicy)
	if err != nil {
		return nil, err
	}
	return reconcile.New(cfg.Reconcile.ProviderID, policy), nil
}

func newBuilder(st store.Store) *campaign.Builder {
	return campaign.NewBuilder(st, campaign.StoreSource{Store: st}, newGate(st), cfg.Campaign.InsertChunkSize)
}

// newRadar returns the provider client, or nil when no token is configured.
func newRadar() radar.Client {
	if cfg.Radar.Token == "" {
		return nil
	}
	return radar.FromConfig(cfg.Radar, cfg.Retry)
}
