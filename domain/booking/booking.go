package booking

import (
	"sort"
	"strings"
	"time"

	lo "github.com/samber/lo"
)

// Booking is one row of an event-booking export. CreatedAt carries the date only.
type Booking struct {
	Line             int       `json:"line"`
	BookingReference string    `json:"booking_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Reference        string    `json:"reference,omitempty"`
	AttendeeStatus   string    `json:"attendee_status,omitempty"`
	Attended         string    `json:"attended,omitempty"`
}

// StatusAttendance is the attendance breakdown of one attendee status.
type StatusAttendance struct {
	Status        string  `json:"status"`
	Bookings      int     `json:"bookings"`
	AttendedYes   int     `json:"attended_yes"`
	AttendedYesPc float64 `json:"attended_yes_pct"`
}

// AttendanceSummary mirrors the attendee statistics of an export.
type AttendanceSummary struct {
	Total           int                `json:"total"`
	StatusCounts    map[string]int     `json:"status_counts"`
	AttendedCounts  map[string]int     `json:"attended_counts"`
	MissingAttended int                `json:"missing_attended"`
	ByStatus        []StatusAttendance `json:"by_status"`
}

// Dates returns the creation dates in input order.
func Dates(bookings []Booking) []time.Time {
	return lo.Map(bookings, func(b Booking, _ int) time.Time { return b.CreatedAt })
}

// Summarize counts statuses and attendance. Rows without a status are grouped under
// an empty status; rows without an attended value count as missing and never as "Yes".
func Summarize(bookings []Booking) AttendanceSummary {
	withAttended := lo.Filter(bookings, func(b Booking, _ int) bool { return strings.TrimSpace(b.Attended) != "" })

	summary := AttendanceSummary{
		Total:           len(bookings),
		StatusCounts:    lo.CountValuesBy(bookings, func(b Booking) string { return strings.TrimSpace(b.AttendeeStatus) }),
		AttendedCounts:  lo.CountValuesBy(withAttended, func(b Booking) string { return strings.TrimSpace(b.Attended) }),
		MissingAttended: len(bookings) - len(withAttended),
	}

	groups := lo.GroupBy(bookings, func(b Booking) string { return strings.TrimSpace(b.AttendeeStatus) })
	for status, rows := range groups {
		yes := lo.CountBy(rows, func(b Booking) bool { return isYes(b.Attended) })
		summary.ByStatus = append(summary.ByStatus, StatusAttendance{
			Status:        status,
			Bookings:      len(rows),
			AttendedYes:   yes,
			AttendedYesPc: float64(yes) / float64(len(rows)) * 100,
		})
	}
	sort.Slice(summary.ByStatus, func(i, j int) bool { return summary.ByStatus[i].Status < summary.ByStatus[j].Status })
	return summary
}

func isYes(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}
