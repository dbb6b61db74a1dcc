package weekly

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyInput is returned when there are no events to anchor or bins to summarize.
	ErrEmptyInput = errors.New("weekly: no events")
	// ErrBeforeAnchor is returned when an event falls before the week-1 anchor.
	ErrBeforeAnchor = errors.New("weekly: event before anchor")
	// ErrDegenerateSeries signals a zero standard deviation.
	ErrDegenerateSeries = errors.New("weekly: zero standard deviation")
	ErrUnknownPolicy    = errors.New("weekly: unknown anchor policy")
	ErrUnknownMethod    = errors.New("weekly: unknown threshold method")
	// ErrInvalidMultiplier is returned for NaN, infinite or negative threshold multipliers.
	ErrInvalidMultiplier = errors.New("weekly: invalid threshold multiplier")
	ErrInvalidPercentile = errors.New("weekly: percentile must be within [0, 100]")
)

// AnchorPolicy selects how the start of week 1 is derived from the earliest event.
type AnchorPolicy string

const (
	// AnchorMonday anchors on the Monday on or before the earliest event.
	AnchorMonday AnchorPolicy = "monday"
	// AnchorMinDate anchors on the earliest event itself.
	AnchorMinDate AnchorPolicy = "min_date"
	// AnchorISOWeek uses ISO calendar weeks. Boundaries match AnchorMonday.
	AnchorISOWeek AnchorPolicy = "iso_week"
)

// ParseAnchorPolicy accepts the configuration spelling of a policy ("" means monday).
func ParseAnchorPolicy(s string) (AnchorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monday":
		return AnchorMonday, nil
	case "min_date", "mindate", "min":
		return AnchorMinDate, nil
	case "iso_week", "iso":
		return AnchorISOWeek, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// ThresholdMethod selects which threshold marks a week as high activity.
type ThresholdMethod string

const (
	MethodStdDev     ThresholdMethod = "stddev"
	MethodPercentile ThresholdMethod = "percentile"
)

func ParseThresholdMethod(s string) (ThresholdMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stddev", "std":
		return MethodStdDev, nil
	case "percentile":
		return MethodPercentile, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// WeekBin is one week of the observation window.
type WeekBin struct {
	Index   int       `json:"week"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	ISOYear int       `json:"iso_year"`
	ISOWeek int       `json:"iso_week"`
	Count   int       `json:"bookings"`
	ZScore  float64   `json:"z_score"`
	Flagged bool      `json:"flagged"`
}

// Label renders the bin as "dd/mm/yyyy - dd/mm/yyyy".
func (b WeekBin) Label() string {
	return b.Start.Format(DateLayout) + " - " + b.End.Format(DateLayout)
}

// TrendLine is the least-squares line fitted over (Index, Count).
type TrendLine struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// At evaluates the line at a week index.
func (t TrendLine) At(index int) float64 {
	return t.Intercept + t.Slope*float64(index)
}

// SeriesStatistics summarizes a dense bin series. StdDev is the population standard deviation.
type SeriesStatistics struct {
	Weeks           int       `json:"weeks"`
	Events          int       `json:"bookings"`
	Mean            float64   `json:"mean"`
	StdDev          float64   `json:"std_dev"`
	K               float64   `json:"k"`
	Threshold       float64   `json:"threshold"`
	Degenerate      bool      `json:"degenerate"`
	Min             int       `json:"min"`
	Max             int       `json:"max"`
	Percentile      float64   `json:"percentile"`
	PercentileValue float64   `json:"percentile_value"`
	Trend           TrendLine `json:"trend"`
}

// DateLayout is the day-first layout used for labels and outputs.
const DateLayout = "02/01/2006"
