package csv

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"booking-stats/domain/booking"
	"booking-stats/domain/weekly"
)

// Output file names for a source named <name>.
func WeeklyFile(name string) string     { return "weekly_" + name + ".csv" }
func StatisticsFile(name string) string { return "statistics_" + name + ".csv" }
func AttendanceFile(name string) string { return "attendance_" + name + ".csv" }

// WriteWeeklyCSV writes one row per week.
// Headers: week, start, end, label, iso_year, iso_week, bookings, z_score, flagged
func WriteWeeklyCSV(path string, bins []weekly.WeekBin) error {
	return writeFile(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"week", "start", "end", "label", "iso_year", "iso_week", "bookings", "z_score", "flagged"}); err != nil {
			return err
		}
		for _, b := range bins {
			row := []string{
				strconv.Itoa(b.Index),
				b.Start.Format(weekly.DateLayout),
				b.End.Format(weekly.DateLayout),
				b.Label(),
				strconv.Itoa(b.ISOYear),
				strconv.Itoa(b.ISOWeek),
				strconv.Itoa(b.Count),
				formatFloat(b.ZScore),
				strconv.FormatBool(b.Flagged),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteStatisticsCSV writes the summary block as metric,value rows.
func WriteStatisticsCSV(path string, stats weekly.SeriesStatistics, invalidRows int) error {
	rows := [][]string{
		{"Threshold", formatFloat(stats.Threshold)},
		{"Mean", formatFloat(stats.Mean)},
		{"Standard Deviation", formatFloat(stats.StdDev)},
		{"K", formatFloat(stats.K)},
		{"Weeks", strconv.Itoa(stats.Weeks)},
		{"Bookings", strconv.Itoa(stats.Events)},
		{"Min", strconv.Itoa(stats.Min)},
		{"Max", strconv.Itoa(stats.Max)},
		{"Percentile", formatFloat(stats.Percentile)},
		{"Percentile Value", formatFloat(stats.PercentileValue)},
		{"Trend Slope", formatFloat(stats.Trend.Slope)},
		{"Trend Intercept", formatFloat(stats.Trend.Intercept)},
		{"Invalid Rows", strconv.Itoa(invalidRows)},
	}
	return writeFile(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"metric", "value"}); err != nil {
			return err
		}
		return w.WriteAll(rows)
	})
}

// WriteAttendanceCSV writes the per-status attendance breakdown.
func WriteAttendanceCSV(path string, summary booking.AttendanceSummary) error {
	return writeFile(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"status", "bookings", "attended_yes", "attended_yes_pct"}); err != nil {
			return err
		}
		for _, s := range summary.ByStatus {
			row := []string{s.Status, strconv.Itoa(s.Bookings), strconv.Itoa(s.AttendedYes), formatFloat(s.AttendedYesPc)}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeFile(path string, fill func(w *csv.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := fill(w); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
