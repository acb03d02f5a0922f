package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/suppression"
)

var dnmCmd = &cobra.Command{
	Use:   "dnm",
	Short: "Manage the do-not-mail registry",
}

func withGate(cmd *cobra.Command, fn func(g *suppression.Gate) error) error {
	st, err := initStore(cmd.Context(), "store")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(newGate(st))
}

// identifierFlags reads --loan-id, --property-id and --radar-id.
func identifierFlags(cmd *cobra.Command) model.Identifiers {
	var ids model.Identifiers
	if cmd.Flags().Changed("loan-id") {
		v, _ := cmd.Flags().GetInt64("loan-id")
		ids.LoanID = &v
	}
	if cmd.Flags().Changed("property-id") {
		v, _ := cmd.Flags().GetInt64("property-id")
		ids.PropertyID = &v
	}
	if v, _ := cmd.Flags().GetString("radar-id"); v != "" {
		ids.RadarID = &v
	}
	return ids
}

func addIdentifierFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("loan-id", 0, "loan id")
	cmd.Flags().Int64("property-id", 0, "property id")
	cmd.Flags().String("radar-id", "", "provider radar id")
}

// -- dnm add --

var dnmAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Block a loan, property or radar id from mailing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := suppression.AddRequest{Identifiers: identifierFlags(cmd)}
		req.Reason, _ = cmd.Flags().GetString("reason")
		req.Source, _ = cmd.Flags().GetString("source")
		req.BlockedBy, _ = cmd.Flags().GetString("by")
		return withGate(cmd, func(g *suppression.Gate) error {
			e, err := g.Add(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		})
	},
}

// -- dnm remove --

var dnmRemoveCmd = &cobra.Command{
	Use:   "remove <dnm-id>",
	Short: "Lift a block (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		by, _ := cmd.Flags().GetString("by")
		return withGate(cmd, func(g *suppression.Gate) error {
			removed, err := g.Remove(cmd.Context(), id, by)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "dnm entry %d removed\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "dnm entry %d was already inactive\n", id)
			}
			return nil
		})
	},
}

// -- dnm list --

var dnmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ids := identifierFlags(cmd)
		filter := store.DnmFilter{LoanID: ids.LoanID, PropertyID: ids.PropertyID}
		if ids.RadarID != nil {
			filter.RadarID = *ids.RadarID
		}
		filter.Source, _ = cmd.Flags().GetString("source")
		filter.BlockedBy, _ = cmd.Flags().GetString("by")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if all, _ := cmd.Flags().GetBool("all"); all {
			filter.Visibility = model.IncludeInactive
		}
		return withGate(cmd, func(g *suppression.Gate) error {
			entries, err := g.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No entries found.")
				return nil
			}
			formatDnmList(cmd.OutOrStdout(), entries)
			return nil
		})
	},
}

// -- dnm check --

var dnmCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether any of the given identifiers is blocked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ids := identifierFlags(cmd)
		return withGate(cmd, func(g *suppression.Gate) error {
			blocked, err := g.IsSuppressed(cmd.Context(), ids)
			if err != nil {
				return err
			}
			if blocked {
				fmt.Fprintln(cmd.OutOrStdout(), "suppressed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "clear")
			}
			return nil
		})
	},
}

func formatDnmList(w io.Writer, entries []model.DnmEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOAN\tPROPERTY\tRADAR ID\tSOURCE\tBY\tBLOCKED\tACTIVE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			e.ID, optInt(e.LoanID), optInt(e.PropertyID), optStr(e.RadarID),
			e.Source, e.BlockedBy, e.BlockedAt.Local().Format(time.DateOnly), e.IsActive)
	}
	_ = tw.Flush()
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func optStr(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func init() {
	addIdentifierFlags(dnmAddCmd)
	dnmAddCmd.Flags().String("reason", "", "why the record is blocked")
	dnmAddCmd.Flags().String("source", "", "where the request came from (required)")
	dnmAddCmd.Flags().String("by", "", "actor adding the block (required)")

	dnmRemoveCmd.Flags().String("by", "", "actor lifting the block (required)")

	addIdentifierFlags(dnmListCmd)
	dnmListCmd.Flags().String("source", "", "filter by source")
	dnmListCmd.Flags().String("by", "", "filter by actor")
	dnmListCmd.Flags().Int("limit", 100, "maximum entries to show")
	dnmListCmd.Flags().Bool("all", false, "include removed entries")

	addIdentifierFlags(dnmCheckCmd)

	dnmCmd.AddCommand(dnmAddCmd, dnmRemoveCmd, dnmListCmd, dnmCheckCmd)
	rootCmd.AddCommand(dnmCmd)
}
