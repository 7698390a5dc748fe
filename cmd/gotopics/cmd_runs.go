package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/gotopics"
	"github.com/brunobiangulo/gotopics/report"
	"github.com/brunobiangulo/gotopics/sentiment"
	"github.com/brunobiangulo/gotopics/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openStore()
		if err != nil {
			return err
		}
		defer engine.Close()

		runs, err := engine.Runs(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tSOURCE\tRECORDS\tCLUSTERED\tNOISE")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
				r.ID, r.CreatedAt, r.Source, r.Records, r.Clustered, r.Noise)
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a saved run as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openStore()
		if err != nil {
			return err
		}
		defer engine.Close()

		run, err := engine.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, msg := range run.Messages {
			fmt.Fprintln(cmd.ErrOrStderr(), "note:", msg)
		}
		rows, err := outputRows(run)
		if err != nil {
			return err
		}
		return report.WriteCSV(cmd.OutOrStdout(), rows)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openStore()
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", args[0])
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 for all)")
}

func outputRows(run *store.Run) ([]gotopics.OutputRow, error) {
	rows := make([]gotopics.OutputRow, len(run.Rows))
	for i, r := range run.Rows {
		label, err := sentiment.ParseLabel(r.Sentiment)
		if err != nil {
			return nil, fmt.Errorf("run %s row %d: %w", run.ID, i, err)
		}
		rows[i] = gotopics.OutputRow{
			GeneralTopic:  r.GeneralTopic,
			Subtopic:      r.Subtopic,
			Sentiment:     label,
			ResponseCount: r.ResponseCount,
			Summary:       r.Summary,
		}
	}
	return rows, nil
}
