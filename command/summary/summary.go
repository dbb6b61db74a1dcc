package summary

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	cconfig "booking-stats/connectors/config"
	ccsv "booking-stats/connectors/csv"
	"booking-stats/domain/booking"
	dreport "booking-stats/domain/report"

	lo "github.com/samber/lo"
)

// Run prints attendee status and attendance statistics for each export and
// writes attendance_<name>.csv when -out is set.
//
//	booking-stats summary [-skip-rows 1] [-skip-invalid] [-out ./data] <export.csv> [...]
func Run(args []string) error {
	cfg, err := cconfig.FromEnv()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	skipRows := fs.Int("skip-rows", cfg.Input.SkipRows, "lines before the header row")
	skipInvalid := fs.Bool("skip-invalid", cfg.Input.SkipInvalidRows, "drop rows with unparsable dates instead of failing")
	out := fs.String("out", "", "optional output directory for attendance CSVs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("summary: at least one booking CSV is required")
	}

	for _, path := range fs.Args() {
		read, err := ccsv.ReadBookings(path, ccsv.ReadOptions{SkipRows: *skipRows, SkipInvalidRows: *skipInvalid})
		if err != nil {
			slog.Error("summary.read.error", "input", path, "error", err)
			return err
		}
		s := booking.Summarize(read.Bookings)
		printSummary(os.Stdout, dreport.SourceName(path), s)

		if *out != "" {
			dest := filepath.Join(*out, ccsv.AttendanceFile(dreport.SourceName(path)))
			if err := ccsv.WriteAttendanceCSV(dest, s); err != nil {
				return err
			}
			slog.Info("summary.written", "path", dest)
		}
	}
	return nil
}

func printSummary(w io.Writer, source string, s booking.AttendanceSummary) {
	fmt.Fprintf(w, "Summary (%s): %d bookings\n", source, s.Total)

	fmt.Fprintln(w, "\nAttendee Status Counts:")
	for _, k := range sortedKeys(s.StatusCounts) {
		fmt.Fprintf(w, "  %-20s %d\n", displayName(k), s.StatusCounts[k])
	}

	fmt.Fprintln(w, "\nAttended Counts:")
	for _, k := range sortedKeys(s.AttendedCounts) {
		fmt.Fprintf(w, "  %-20s %d\n", k, s.AttendedCounts[k])
	}
	fmt.Fprintf(w, "Missing/Empty: There are %d entries with missing or empty values in the Attended column.\n", s.MissingAttended)

	fmt.Fprintln(w, "\nAverage Attendance by Attendee Status (in Percentage):")
	for _, st := range s.ByStatus {
		fmt.Fprintf(w, "  %-20s %.2f\n", displayName(st.Status), st.AttendedYesPc)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func displayName(status string) string {
	if status == "" {
		return "(none)"
	}
	return status
}
