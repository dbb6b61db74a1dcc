package calculate

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cconfig "booking-stats/connectors/config"
	ccsv "booking-stats/connectors/csv"
	"booking-stats/connectors/postgres"
	creport "booking-stats/connectors/report"
	dconfig "booking-stats/domain/config"
	dreport "booking-stats/domain/report"
	"booking-stats/domain/weekly"
)

// Run executes the calculate command.
//
// Usage:
//
//	booking-stats calculate [-anchor monday|min_date|iso_week] [-k 1] [-method stddev|percentile]
//	    [-percentile 80] [-skip-rows 1] [-skip-invalid] [-out ./data] [-db] [-db-schema s] [-db-tag t]
//	    <export.csv> [more.csv ...]
//
// For every export it writes weekly_<name>.csv, statistics_<name>.csv, attendance_<name>.csv
// and report_<name>.json into the output directory.
func Run(args []string) error {
	cfg, err := cconfig.FromEnv()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("calculate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	input := fs.String("input", "", "booking CSV export (further exports may follow as arguments)")
	anchor := fs.String("anchor", cfg.Weekly.Anchor, "week-1 anchor: monday, min_date or iso_week")
	k := fs.Float64("k", cfg.Weekly.Multiplier, "threshold multiplier: threshold = mean + k*std")
	method := fs.String("method", cfg.Weekly.ThresholdMethod, "high-activity threshold: stddev or percentile")
	percentile := fs.Float64("percentile", cfg.Weekly.Percentile, "percentile used by -method percentile")
	skipRows := fs.Int("skip-rows", cfg.Input.SkipRows, "lines before the header row")
	skipInvalid := fs.Bool("skip-invalid", cfg.Input.SkipInvalidRows, "drop rows with unparsable dates instead of failing")
	out := fs.String("out", cfg.Output.Dir, "output directory")
	db := fs.Bool("db", cfg.Database.Enabled, "store runs in Postgres (BOOKING_STATS_DB_URL or DATABASE_URL)")
	dbSchema := fs.String("db-schema", cfg.Database.Schema, "Postgres schema for analysis tables")
	dbTag := fs.String("db-tag", cfg.Database.Tag, "optional label for stored runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Weekly.Anchor = *anchor
	cfg.Weekly.Multiplier = *k
	cfg.Weekly.ThresholdMethod = *method
	cfg.Weekly.Percentile = *percentile
	cfg.Input.SkipRows = *skipRows
	cfg.Input.SkipInvalidRows = *skipInvalid
	cfg.Output.Dir = *out
	cfg.Database.Enabled = *db
	cfg.Database.Schema = *dbSchema
	cfg.Database.Tag = *dbTag
	if err := cfg.Validate(); err != nil {
		return err
	}

	inputs := fs.Args()
	if *input != "" {
		inputs = append([]string{*input}, inputs...)
	}
	if len(inputs) == 0 {
		return errors.New("calculate: at least one booking CSV is required")
	}

	var store *postgres.Store
	if cfg.Database.Enabled {
		url := cfg.Database.URL
		if url == "" {
			url = postgres.URLFromEnv()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
		store, err = postgres.Open(ctx, url, cfg.Database.Schema)
		cancel()
		if err != nil {
			slog.Error("calculate.db.open.error", "error", err)
			return err
		}
		defer store.Close()
	}

	for _, path := range inputs {
		rep, err := Calculate(path, cfg)
		if err != nil {
			slog.Error("calculate.error", "input", path, "error", err)
			return err
		}
		printSummary(os.Stdout, rep)

		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
			id, err := store.SaveRun(ctx, postgres.Run{
				Source:      rep.Source,
				Tag:         cfg.Database.Tag,
				InvalidRows: rep.InvalidRows,
				Result:      rep.Weekly,
			})
			cancel()
			if err != nil {
				slog.Error("calculate.db.save.error", "source", rep.Source, "error", err)
				return err
			}
			slog.Info("calculate.db.saved", "source", rep.Source, "run_id", id.String())
		}
	}

	slog.Info("calculate.done", "inputs", len(inputs), "out", cfg.Output.Dir)
	return nil
}

// Calculate analyses one export and writes its output files.
func Calculate(path string, cfg *dconfig.Config) (dreport.Report, error) {
	agg, err := cfg.Aggregator()
	if err != nil {
		return dreport.Report{}, err
	}
	slog.Info("calculate.start", "input", path, "anchor", agg.Policy, "k", agg.K, "method", agg.Method)

	read, err := ccsv.ReadBookings(path, ccsv.ReadOptions{
		SkipRows:        cfg.Input.SkipRows,
		SkipInvalidRows: cfg.Input.SkipInvalidRows,
	})
	if err != nil {
		return dreport.Report{}, err
	}
	source := dreport.SourceName(path)
	rep, err := dreport.Build(source, read.Bookings, read.InvalidRows, agg, time.Now())
	if err != nil {
		return dreport.Report{}, fmt.Errorf("%s: %w", path, err)
	}
	if rep.Weekly.Stats.Degenerate {
		slog.Warn("calculate.degenerate", "source", source, "weeks", rep.Weekly.Stats.Weeks)
	}

	if err := WriteOutputs(cfg.Output.Dir, rep); err != nil {
		return dreport.Report{}, err
	}
	slog.Info("calculate.source.done", "source", source, "bookings", rep.Weekly.Stats.Events,
		"weeks", rep.Weekly.Stats.Weeks, "flagged", len(rep.Weekly.Flagged()), "invalid_rows", rep.InvalidRows)
	return rep, nil
}

// WriteOutputs writes every file derived from a report into dir.
func WriteOutputs(dir string, rep dreport.Report) error {
	if err := ccsv.WriteWeeklyCSV(filepath.Join(dir, ccsv.WeeklyFile(rep.Source)), rep.Weekly.Bins); err != nil {
		return err
	}
	if err := ccsv.WriteStatisticsCSV(filepath.Join(dir, ccsv.StatisticsFile(rep.Source)), rep.Weekly.Stats, rep.InvalidRows); err != nil {
		return err
	}
	if err := ccsv.WriteAttendanceCSV(filepath.Join(dir, ccsv.AttendanceFile(rep.Source)), rep.Attendance); err != nil {
		return err
	}
	return creport.Write(filepath.Join(dir, dreport.FileName(rep.Source)), rep)
}

func printSummary(w io.Writer, rep dreport.Report) {
	st := rep.Weekly.Stats
	fmt.Fprintf(w, "Booking Count by Week (%s)\n", rep.Source)
	fmt.Fprintf(w, "  anchor:     %s (%s)\n", rep.Weekly.Anchor.Format(weekly.DateLayout), rep.Weekly.Policy)
	fmt.Fprintf(w, "  weeks:      %d\n", st.Weeks)
	fmt.Fprintf(w, "  bookings:   %d\n", st.Events)
	fmt.Fprintf(w, "  mean:       %.4f\n", st.Mean)
	fmt.Fprintf(w, "  std dev:    %.4f\n", st.StdDev)
	fmt.Fprintf(w, "  threshold:  %.4f (k=%g)\n", st.Threshold, st.K)
	if rep.Weekly.Method == weekly.MethodPercentile {
		fmt.Fprintf(w, "  p%g:        %.4f\n", st.Percentile, st.PercentileValue)
	}
	for _, b := range rep.Weekly.Flagged() {
		fmt.Fprintf(w, "  high week %d (%s): %d bookings, z=%.4f\n", b.Index, b.Label(), b.Count, b.ZScore)
	}
}
