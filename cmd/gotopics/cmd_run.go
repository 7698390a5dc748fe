package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/gotopics"
	"github.com/brunobiangulo/gotopics/report"
	"github.com/brunobiangulo/gotopics/source"
)

var runFlags struct {
	column         string
	idColumn       string
	seedsPath      string
	seedColumn     string
	output         string
	minClusterSize int
	seed           int64
	save           bool
	names          bool
	quiet          bool
}

var runCmd = &cobra.Command{
	Use:   "run <feedback.csv>",
	Short: "Discover topics in a CSV of feedback",
	Long: `Read one feedback entry per CSV row, group the entries into topics and
subtopics and write one row per subtopic.

Usage:
  gotopics run feedback.csv                     # CSV table on stdout
  gotopics run feedback.csv -o report.xlsx      # Excel workbook
  gotopics run feedback.csv --seeds seeds.csv   # bias toward known topics`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.column, "column", "", "Feedback column (default: Comments, else the first column)")
	f.StringVar(&runFlags.idColumn, "id-column", "", "Integer ID column (default: row number)")
	f.StringVar(&runFlags.seedsPath, "seeds", "", "CSV of seed topics")
	f.StringVar(&runFlags.seedColumn, "seed-column", "", "Seed topic column (default: first column)")
	f.StringVarP(&runFlags.output, "output", "o", "", "Output file, .csv or .xlsx (default: CSV on stdout)")
	f.IntVar(&runFlags.minClusterSize, "min-cluster-size", 0, "Smallest subtopic size (default from config)")
	f.Int64Var(&runFlags.seed, "seed", 0, "Random seed for the projection (0 keeps the configured seed)")
	f.BoolVar(&runFlags.save, "save", false, "Save the run in the run store")
	f.BoolVar(&runFlags.names, "names", false, "Ask the chat model for readable topic names")
	f.BoolVarP(&runFlags.quiet, "quiet", "q", false, "Hide progress")
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]

	outExt := strings.ToLower(filepath.Ext(runFlags.output))
	if runFlags.output != "" && outExt != ".csv" && outExt != ".xlsx" {
		return fmt.Errorf("unsupported output type %q: use .csv or .xlsx", outExt)
	}

	records, err := source.LoadRecords(path, source.Options{
		Column:   runFlags.column,
		IDColumn: runFlags.idColumn,
	})
	if err != nil {
		return err
	}

	var opts []gotopics.RunOption
	if runFlags.seedsPath != "" {
		seeds, err := source.LoadSeeds(runFlags.seedsPath, runFlags.seedColumn)
		if err != nil {
			return err
		}
		opts = append(opts, gotopics.WithSeeds(seeds))
	}
	if runFlags.minClusterSize > 0 {
		opts = append(opts, gotopics.WithMinClusterSize(runFlags.minClusterSize))
	}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, gotopics.WithSeed(runFlags.seed))
	}
	if !runFlags.quiet {
		opts = append(opts, gotopics.WithProgress(progressPrinter(cmd.ErrOrStderr())))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.save {
		cfg.Store = true
	}
	if runFlags.names {
		cfg.Summarize.GenerateNames = true
	}

	engine, err := gotopics.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := engine.Run(ctx, records, opts...)
	if err != nil {
		return err
	}

	for _, msg := range res.Report.Messages() {
		fmt.Fprintln(cmd.ErrOrStderr(), "note:", msg)
	}

	switch outExt {
	case ".xlsx":
		err = report.WriteXLSX(runFlags.output, res)
	case ".csv":
		err = writeCSVFile(runFlags.output, res)
	default:
		err = report.WriteCSV(cmd.OutOrStdout(), res.Rows)
	}
	if err != nil {
		return err
	}

	if runFlags.save {
		if err := engine.Save(context.WithoutCancel(ctx), res, filepath.Base(path)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved run %s\n", res.RunID)
	}
	return nil
}

func writeCSVFile(path string, res *gotopics.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := report.WriteCSV(f, res.Rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// progressPrinter reports each stage once, with the overall percentage.
func progressPrinter(w io.Writer) func(stage string, fraction float64) {
	last := ""
	return func(stage string, fraction float64) {
		if stage == last && fraction < 1 {
			return
		}
		last = stage
		fmt.Fprintf(w, "[%3.0f%%] %s\n", fraction*100, stage)
	}
}
