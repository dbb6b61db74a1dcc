package report

import (
	"path/filepath"
	"strings"
	"time"

	"booking-stats/domain/booking"
	"booking-stats/domain/weekly"
)

// Report is the exported outcome of analysing one booking export.
type Report struct {
	Source      string                    `json:"source"`
	GeneratedAt time.Time                 `json:"generated_at"`
	InvalidRows int                       `json:"invalid_rows"`
	Weekly      weekly.Result             `json:"weekly"`
	Attendance  booking.AttendanceSummary `json:"attendance"`
}

// Build runs the aggregator over the bookings and attaches the attendance summary.
func Build(source string, bookings []booking.Booking, invalidRows int, agg weekly.Aggregator, now time.Time) (Report, error) {
	res, err := agg.Analyze(booking.Dates(bookings))
	if err != nil {
		return Report{}, err
	}
	return Report{
		Source:      source,
		GeneratedAt: now.UTC(),
		InvalidRows: invalidRows,
		Weekly:      res,
		Attendance:  booking.Summarize(bookings),
	}, nil
}

// SourceName derives the output name of an input file: "/x/SRM22.csv" -> "SRM22".
func SourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileName is the JSON report file for a source.
func FileName(source string) string {
	return "report_" + source + ".json"
}

// SourceFromFileName reverses FileName; ok is false for other files.
func SourceFromFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, "report_") || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	src := strings.TrimSuffix(strings.TrimPrefix(name, "report_"), ".json")
	return src, src != ""
}
