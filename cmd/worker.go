package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/ingest"
	"github.com/sells-group/mailhaus/internal/source"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim and process ingestion units",
	Long: "Runs a pool of workers that claim pending units, reconcile their records and " +
		"record completion. With --once a single worker drains the queue and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("concurrency") {
			cfg.Worker.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		}
		st, err := initStore(ctx, "worker")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng, err := newEngine()
		if err != nil {
			return err
		}
		tr := newTracker(st)
		files := source.LoaderFromConfig(cfg.FTP)
		rc := newRadar()
		opts := ingest.OptionsFromConfig(cfg.Worker, cfg.Retry)

		if once, _ := cmd.Flags().GetBool("once"); once {
			w := ingest.NewWorker(st, tr, eng, files, rc, opts)
			var processed int
			for {
				worked, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				if !worked {
					break
				}
				processed++
			}
			zap.L().Info("queue drained", zap.Int("units", processed))
			return nil
		}

		pool := ingest.NewPool(cfg.Worker.Concurrency, opts, func(o ingest.Options) *ingest.Worker {
			return ingest.NewWorker(st, tr, eng, files, rc, o)
		})
		return pool.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().Int("concurrency", 0, "number of workers (default from config)")
	workerCmd.Flags().Bool("once", false, "drain the queue with one worker and exit")
	rootCmd.AddCommand(workerCmd)
}
