package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/tracker"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Inspect and recover ingestion units",
}

// withTracker opens the store for one units subcommand.
func withTracker(cmd *cobra.Command, fn func(tr *tracker.Tracker) error) error {
	st, err := initStore(cmd.Context(), "store")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(newTracker(st))
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// -- units list --

var unitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List units",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := store.UnitFilter{
			Status: model.UnitStatus(status),
			Kind:   model.UnitKind(kind),
			Limit:  limit,
		}
		if cmd.Flags().Changed("parent") {
			p, _ := cmd.Flags().GetInt64("parent")
			filter.ParentID = &p
		}
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			units, err := tr.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(units) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No units found.")
				return nil
			}
			formatUnitsList(cmd.OutOrStdout(), units)
			return nil
		})
	},
}

// -- units get --

var unitsGetCmd = &cobra.Command{
	Use:   "get <unit-id>",
	Short: "Show a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			u, err := tr.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		})
	},
}

// -- units progress --

var unitsProgressCmd = &cobra.Command{
	Use:   "progress <unit-id>",
	Short: "Show processed/total counts of a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			p, err := tr.Progress(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unit %d %s: %d/%d processed (%.1f%%), %d ok, %d errors\n",
				p.UnitID, p.Status, p.Processed, p.Total, p.Percent, p.Success, p.Errors)
			return nil
		})
	},
}

// -- units logs --

var unitsLogsCmd = &cobra.Command{
	Use:   "logs <unit-id>",
	Short: "Print a unit's log lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			logs, err := tr.Logs(cmd.Context(), id, limit, offset)
			if err != nil {
				return err
			}
			formatUnitLogs(cmd.OutOrStdout(), logs)
			return nil
		})
	},
}

// -- units stuck --

var unitsStuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List units past their pending or processing threshold",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			units, err := tr.FindStuck(cmd.Context())
			if err != nil {
				return err
			}
			if len(units) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No stuck units.")
				return nil
			}
			formatUnitsList(cmd.OutOrStdout(), units)
			return nil
		})
	},
}

// -- units reset --

var unitsResetCmd = &cobra.Command{
	Use:   "reset <unit-id>",
	Short: "Return a terminal or stuck unit to PENDING",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			u, err := tr.Reset(cmd.Context(), id, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unit %d reset to %s\n", u.ID, u.Status)
			return nil
		})
	},
}

// -- units recompute --

var unitsRecomputeCmd = &cobra.Command{
	Use:   "recompute <parent-id>",
	Short: "Re-derive a parent unit from its children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			s, err := tr.RecomputeParent(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		})
	},
}

func formatUnitsList(w io.Writer, units []model.IngestionUnit) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tSTATUS\tPRI\tPROCESSED\tOK\tERR\tCREATED")
	for _, u := range units {
		name := u.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		if u.IsParent {
			name += " [parent]"
		}
		c := u.Counts()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d/%d\t%d\t%d\t%s\n",
			u.ID, u.Kind, name, u.Status, u.Priority,
			c.Processed, c.Total, c.Success, c.Errors,
			u.CreatedAt.Local().Format(time.DateTime),
		)
	}
	_ = tw.Flush()
}

func formatUnitLogs(w io.Writer, logs []model.UnitLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tRADAR ID\tCLASS\tMESSAGE")
	for _, l := range logs {
		radarID := l.RadarID
		if radarID == "" {
			radarID = "-"
		}
		class := l.ErrorClass
		if class == "" {
			class = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.CreatedAt.Local().Format(time.DateTime), l.Level, radarID, class, l.Message)
	}
	_ = tw.Flush()
}

// -- units health --

var unitsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Summarize queue health and send any alerts it triggers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Flags().Changed("lookback") {
			cfg.Monitoring.LookbackWindowHours, _ = cmd.Flags().GetInt("lookback")
		}
		return withTracker(cmd, func(tr *tracker.Tracker) error {
			snap, alerts, err := newChecker(tr).Check(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "last %dh: %d units, %d completed, %d failed (%.1f%%), %d stuck\n",
				snap.LookbackHours, snap.UnitsTotal, snap.UnitsCompleted, snap.UnitsFailed,
				snap.FailRate*100, len(snap.StuckUnits))
			for _, a := range alerts {
				fmt.Fprintf(out, "ALERT %s: %s\n", a.Type, a.Message)
			}
			return nil
		})
	},
}

func init() {
	unitsListCmd.Flags().String("status", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED)")
	unitsListCmd.Flags().String("kind", "", "filter by kind (FILE, CRITERIA)")
	unitsListCmd.Flags().Int64("parent", 0, "list the children of a parent unit")
	unitsListCmd.Flags().Int("limit", 50, "maximum units to show")
	unitsLogsCmd.Flags().Int("limit", 100, "maximum lines to show")
	unitsLogsCmd.Flags().Int("offset", 0, "lines to skip")
	unitsResetCmd.Flags().Bool("force", false, "reset a unit that is neither terminal nor stuck")
	unitsHealthCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")

	unitsCmd.AddCommand(unitsListCmd, unitsGetCmd, unitsProgressCmd, unitsLogsCmd,
		unitsStuckCmd, unitsResetCmd, unitsRecomputeCmd, unitsHealthCmd)
	rootCmd.AddCommand(unitsCmd)
}
