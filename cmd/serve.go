package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/mailhaus/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for units and the DNM registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}
		st, err := initStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tr := newTracker(st)
		if cfg.Monitoring.Enabled {
			go newChecker(tr).Run(ctx)
		}
		srv := api.New(tr, newGate(st), newRadar())
		return srv.ListenAndServe(ctx, cfg.Server.Port)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
