package report

import (
	"testing"
	"time"

	"booking-stats/domain/booking"
	"booking-stats/domain/weekly"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	jan := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	bookings := []booking.Booking{
		{CreatedAt: jan(1), AttendeeStatus: "Booked", Attended: "Yes"},
		{CreatedAt: jan(3), AttendeeStatus: "Booked", Attended: "No"},
		{CreatedAt: jan(15), AttendeeStatus: "Cancelled"},
	}
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	r, err := Build("SRM22", bookings, 1, weekly.NewAggregator(), now)
	require.NoError(t, err)
	assert.Equal(t, "SRM22", r.Source)
	assert.Equal(t, 1, r.InvalidRows)
	assert.Equal(t, time.UTC, r.GeneratedAt.Location())
	assert.Len(t, r.Weekly.Bins, 3)
	assert.Equal(t, 3, r.Attendance.Total)
	assert.Equal(t, 1, r.Attendance.MissingAttended)
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build("none", nil, 0, weekly.NewAggregator(), time.Now())
	assert.ErrorIs(t, err, weekly.ErrEmptyInput)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "SRM22", SourceName("/data/in/SRM22.csv"))
	assert.Equal(t, "report_SRM22.json", FileName("SRM22"))

	src, ok := SourceFromFileName("report_D19.json")
	assert.True(t, ok)
	assert.Equal(t, "D19", src)

	_, ok = SourceFromFileName("weekly_D19.csv")
	assert.False(t, ok)
	_, ok = SourceFromFileName("report_.json")
	assert.False(t, ok)
}
