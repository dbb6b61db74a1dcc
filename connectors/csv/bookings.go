package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"booking-stats/domain/booking"
)

var (
	ErrMissingHeader = errors.New("csv: header row not found")
	ErrMissingColumn = errors.New("csv: required column missing")
	ErrInvalidDate   = errors.New("csv: invalid date")
)

// Column names of a booking export, matched after trimming and lowercasing.
const (
	ColCreatedDate      = "created date"
	ColBookingReference = "bookingreference"
	ColReference        = "reference"
	ColAttendeeStatus   = "attendee status"
	ColAttended         = "attended"
)

// dayFirstLayout accepts one or two digit days and months, day before month.
const dayFirstLayout = "2/1/2006"

// ReadOptions controls how an export is parsed.
type ReadOptions struct {
	// SkipRows is the number of lines preceding the header (exports carry a title line).
	SkipRows int
	// SkipInvalidRows drops rows with unparsable dates instead of failing.
	SkipInvalidRows bool
}

// ReadResult holds the parsed bookings.
type ReadResult struct {
	Bookings    []booking.Booking
	InvalidRows int
}

// ReadBookings parses the booking export at path.
func ReadBookings(path string, opts ReadOptions) (ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReadResult{}, err
	}
	defer f.Close()
	res, err := ParseBookings(f, opts)
	if err != nil {
		return ReadResult{}, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// ParseBookings reads bookings from r. Dates are always read day-first.
func ParseBookings(r io.Reader, opts ReadOptions) (ReadResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := cr.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return ReadResult{}, ErrMissingHeader
			}
			return ReadResult{}, err
		}
	}
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ReadResult{}, ErrMissingHeader
		}
		return ReadResult{}, err
	}
	idx := indexMap(head)
	dateCol, ok := idx[ColCreatedDate]
	if !ok {
		return ReadResult{}, fmt.Errorf("%w: %q", ErrMissingColumn, "Created Date")
	}

	var res ReadResult
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ReadResult{}, err
		}
		line, _ := cr.FieldPos(0)

		created, err := ParseDate(field(rec, dateCol))
		if err != nil {
			if opts.SkipInvalidRows {
				slog.Warn("csv.row.skip", "line", line, "error", err)
				res.InvalidRows++
				continue
			}
			return ReadResult{}, fmt.Errorf("line %d: %w", line, err)
		}
		res.Bookings = append(res.Bookings, booking.Booking{
			Line:             line,
			BookingReference: lookup(rec, idx, ColBookingReference, "booking reference"),
			CreatedAt:        created,
			Reference:        lookup(rec, idx, ColReference),
			AttendeeStatus:   lookup(rec, idx, ColAttendeeStatus),
			Attended:         lookup(rec, idx, ColAttended),
		})
	}
	return res, nil
}

// ParseDate reads a DD/MM/YYYY date. A trailing time of day is ignored.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	t, err := time.Parse(dayFirstLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

func indexMap(headers []string) map[string]int {
	m := map[string]int{}
	for i, h := range headers {
		h = strings.TrimPrefix(h, "\ufeff")
		m[strings.TrimSpace(strings.ToLower(h))] = i
	}
	return m
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func lookup(rec []string, idx map[string]int, names ...string) string {
	for _, n := range names {
		if i, ok := idx[n]; ok {
			return field(rec, i)
		}
	}
	return ""
}
