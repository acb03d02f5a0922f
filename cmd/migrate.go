package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
