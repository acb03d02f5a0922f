package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailhaus/internal/store"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Create campaigns and generate their recipients",
}

// -- campaign create --

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		raw, _ := cmd.Flags().GetString("mail-date")
		var mailDate time.Time
		if raw != "" {
			d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
			if err != nil {
				return eris.Wrapf(err, "invalid --mail-date %q", raw)
			}
			mailDate = d
		}

		st, err := initStore(cmd.Context(), "campaign")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := newBuilder(st).Create(cmd.Context(), name, mailDate)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), c)
	},
}

// -- campaign build --

var campaignBuildCmd = &cobra.Command{
	Use:   "build <campaign-id>",
	Short: "Generate recipients from eligible properties, skipping suppressed ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var filter store.CandidateFilter
		filter.State, _ = cmd.Flags().GetString("state")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.RadarIDs, _ = cmd.Flags().GetStringSlice("radar-id")
		if cmd.Flags().Changed("min-equity") {
			v, _ := cmd.Flags().GetFloat64("min-equity")
			filter.MinEquityPercent = &v
		}

		st, err := initStore(cmd.Context(), "campaign")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newBuilder(st).Build(cmd.Context(), id, filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "campaign %d generation %s: %d candidates, %d suppressed, %d recipients\n",
			res.CampaignID, res.GenerationID, res.Candidates, res.Suppressed, res.Inserted)
		return nil
	},
}

func init() {
	campaignCreateCmd.Flags().String("name", "", "campaign name (required)")
	campaignCreateCmd.Flags().String("mail-date", "", "mail drop date, YYYY-MM-DD (default: next weekday)")
	_ = campaignCreateCmd.MarkFlagRequired("name")

	campaignBuildCmd.Flags().String("state", "", "restrict to a property state")
	campaignBuildCmd.Flags().Float64("min-equity", 0, "minimum equity percent")
	campaignBuildCmd.Flags().StringSlice("radar-id", nil, "restrict to these radar ids")
	campaignBuildCmd.Flags().Int("limit", 0, "maximum candidates (0 = all)")

	campaignCmd.AddCommand(campaignCreateCmd, campaignBuildCmd)
	rootCmd.AddCommand(campaignCmd)
}
