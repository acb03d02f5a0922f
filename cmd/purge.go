package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/purge"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Hard-delete every lead record of a state",
	Long: "Counts the recipients, loans, owners and properties of a state and, with --yes, " +
		"deletes them in one transaction. DNM entries and unit logs are kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		state, _ := cmd.Flags().GetString("state")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")

		st, err := initStore(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		p := purge.New(st)

		plan, err := p.Plan(cmd.Context(), state)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		formatPurgeCounts(out, "would delete", plan)
		if dryRun || !yes {
			if !dryRun {
				fmt.Fprintln(cmd.ErrOrStderr(), "re-run with --yes to delete")
			}
			return nil
		}

		done, err := p.Execute(cmd.Context(), state)
		if err != nil {
			return err
		}
		formatPurgeCounts(out, "deleted", done)
		return nil
	},
}

func formatPurgeCounts(w io.Writer, verb string, c model.PurgeCounts) {
	fmt.Fprintf(w, "%s: %d properties, %d owners, %d loans, %d campaign recipients, %d history rows\n",
		verb, c.Properties, c.Owners, c.Loans, c.Recipients, c.PropertyHistory+c.OwnerHistory+c.LoanHistory)
}

func init() {
	purgeCmd.Flags().String("state", "", "two-letter state code (required)")
	purgeCmd.Flags().Bool("dry-run", false, "only print what would be deleted")
	purgeCmd.Flags().Bool("yes", false, "confirm the deletion")
	_ = purgeCmd.MarkFlagRequired("state")
	rootCmd.AddCommand(purgeCmd)
}
