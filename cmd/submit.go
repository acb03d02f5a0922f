package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailhaus/internal/tracker"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue ingestion units",
}

// -- submit file --

var submitFileCmd = &cobra.Command{
	Use:   "file <path-or-ftp-url>",
	Short: "Queue a batch file (CSV, JSON or XLSX)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts, err := submitOptions(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		u, err := newTracker(st).SubmitFile(ctx, args[0], opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), u)
	},
}

// -- submit criteria --

var submitCriteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Queue a provider criteria query, split into batches when large",
	Long: "Reads a criteria document (JSON or YAML) and queues it. Without --total the " +
		"provider is asked how many records match.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		opts, err := submitOptions(cmd)
		if err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read criteria %s", path)
		}
		criteria, err := tracker.LoadCriteria(path, data)
		if err != nil {
			return err
		}

		total, _ := cmd.Flags().GetInt("total")
		if !cmd.Flags().Changed("total") {
			rc := newRadar()
			if rc == nil {
				return eris.New("--total is required when radar.token is not configured")
			}
			if total, err = rc.Count(ctx, criteria); err != nil {
				return eris.Wrap(err, "count criteria results")
			}
		}

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		parent, children, err := newTracker(st).SubmitCriteria(ctx, criteria, total, opts)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), parent); err != nil {
			return err
		}
		if len(children) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "queued %d batches for %d records\n", len(children), total)
		}
		return nil
	},
}

func submitOptions(cmd *cobra.Command) (tracker.SubmitOptions, error) {
	var opts tracker.SubmitOptions
	opts.Name, _ = cmd.Flags().GetString("name")
	opts.ProviderID, _ = cmd.Flags().GetString("provider")
	opts.BatchNumber, _ = cmd.Flags().GetInt("batch")
	if cmd.Flags().Changed("priority") {
		p, _ := cmd.Flags().GetInt("priority")
		opts.Priority = &p
	}
	if cmd.Flags().Changed("campaign") {
		id, _ := cmd.Flags().GetInt64("campaign")
		if id <= 0 {
			return opts, eris.Errorf("invalid campaign id %d", id)
		}
		opts.CampaignID = &id
	}
	return opts, nil
}

func addSubmitFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "unit name (default from the file name)")
	cmd.Flags().Int("priority", 0, "claim priority; higher runs first (default from config)")
	cmd.Flags().Int64("campaign", 0, "target campaign id")
	cmd.Flags().String("provider", "", "provider id recorded on the unit")
	cmd.Flags().Int("batch", 0, "caller batch number")
}

func init() {
	addSubmitFlags(submitFileCmd)
	addSubmitFlags(submitCriteriaCmd)
	submitCriteriaCmd.Flags().String("file", "", "criteria document (.json, .yaml)")
	submitCriteriaCmd.Flags().Int("total", 0, "expected record count (default: ask the provider)")
	_ = submitCriteriaCmd.MarkFlagRequired("file")

	submitCmd.AddCommand(submitFileCmd, submitCriteriaCmd)
	rootCmd.AddCommand(submitCmd)
}
