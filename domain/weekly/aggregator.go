// Package weekly buckets dated events into a dense series of weeks and computes
// descriptive statistics over it.
//
// Every function here is pure: inputs are never mutated and identical inputs yield
// identical outputs.
package weekly

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	lo "github.com/samber/lo"
)

const (
	DefaultMultiplier = 1.0
	DefaultPercentile = 80.0
)

var ErrInvalidBin = errors.New("weekly: invalid bin series")

// Result is the outcome of one aggregation run.
type Result struct {
	Policy          AnchorPolicy     `json:"policy"`
	Anchor          time.Time        `json:"anchor"`
	Method          ThresholdMethod  `json:"threshold_method"`
	ActiveThreshold float64          `json:"active_threshold"`
	Bins            []WeekBin        `json:"weeks"`
	Stats           SeriesStatistics `json:"statistics"`
}

// Flagged returns the bins whose count is above the active threshold.
func (r Result) Flagged() []WeekBin {
	return lo.Filter(r.Bins, func(b WeekBin, _ int) bool { return b.Flagged })
}

// Aggregator runs anchor, bucket and statistics with a fixed configuration.
type Aggregator struct {
	Policy     AnchorPolicy
	K          float64
	Method     ThresholdMethod
	Percentile float64
}

// NewAggregator returns an aggregator with the Monday policy, k=1 and the stddev method.
func NewAggregator() Aggregator {
	return Aggregator{
		Policy:     AnchorMonday,
		K:          DefaultMultiplier,
		Method:     MethodStdDev,
		Percentile: DefaultPercentile,
	}
}

// Analyze runs the full pipeline over event dates.
func (a Aggregator) Analyze(dates []time.Time) (Result, error) {
	policy := a.Policy
	if policy == "" {
		policy = AnchorMonday
	}
	method := a.Method
	if method == "" {
		method = MethodStdDev
	}
	if method != MethodStdDev && method != MethodPercentile {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	anchor, err := AnchorWeek(dates, policy)
	if err != nil {
		return Result{}, err
	}
	bins, err := Bucket(dates, anchor)
	if err != nil {
		return Result{}, err
	}
	bins, stats, err := ComputeStatistics(bins, a.K)
	if err != nil {
		return Result{}, err
	}

	counts := lo.Map(bins, func(b WeekBin, _ int) float64 { return float64(b.Count) })
	pv, err := Percentile(counts, a.Percentile)
	if err != nil {
		return Result{}, err
	}
	stats.Percentile = a.Percentile
	stats.PercentileValue = pv

	active := stats.Threshold
	if method == MethodPercentile {
		active = pv
	}
	for i := range bins {
		bins[i].Flagged = float64(bins[i].Count) > active
	}

	return Result{
		Policy:          policy,
		Anchor:          anchor,
		Method:          method,
		ActiveThreshold: active,
		Bins:            bins,
		Stats:           stats,
	}, nil
}

// AnchorWeek returns the start of week 1 for the given policy.
func AnchorWeek(dates []time.Time, policy AnchorPolicy) (time.Time, error) {
	if len(dates) == 0 {
		return time.Time{}, ErrEmptyInput
	}
	first := lo.MinBy(dates, func(a, b time.Time) bool { return dateOnly(a).Before(dateOnly(b)) })
	first = dateOnly(first)

	switch policy {
	case AnchorMonday, AnchorISOWeek, "":
		// Go counts Sunday as 0; shift so Monday is 0.
		offset := (int(first.Weekday()) + 6) % 7
		return first.AddDate(0, 0, -offset), nil
	case AnchorMinDate:
		return first, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
}

// Bucket counts events per week starting at anchor. The result covers every week
// from 1 to the last observed week, including weeks without events.
func Bucket(dates []time.Time, anchor time.Time) ([]WeekBin, error) {
	if len(dates) == 0 {
		return nil, ErrEmptyInput
	}
	anchor = dateOnly(anchor)
	origin := civilDay(anchor)

	indexes := make([]int, len(dates))
	for i, d := range dates {
		days := civilDay(d) - origin
		if days < 0 {
			return nil, fmt.Errorf("%w: %s is before %s", ErrBeforeAnchor,
				dateOnly(d).Format(DateLayout), anchor.Format(DateLayout))
		}
		indexes[i] = int(days/7) + 1
	}

	bins := lo.Times(lo.Max(indexes), func(i int) WeekBin {
		start := anchor.AddDate(0, 0, 7*i)
		year, week := start.ISOWeek()
		return WeekBin{
			Index:   i + 1,
			Start:   start,
			End:     start.AddDate(0, 0, 6),
			ISOYear: year,
			ISOWeek: week,
		}
	})
	for _, idx := range indexes {
		bins[idx-1].Count++
	}
	return bins, nil
}

// ComputeStatistics returns a copy of bins with z-scores filled in and the series
// statistics. Mean and standard deviation run over every bin, zero bins included, and
// the standard deviation divides by N. A series with identical counts gets z-score 0
// on every bin. Percentile fields are left for the caller.
func ComputeStatistics(bins []WeekBin, k float64) ([]WeekBin, SeriesStatistics, error) {
	if math.IsNaN(k) || math.IsInf(k, 0) || k < 0 {
		return nil, SeriesStatistics{}, fmt.Errorf("%w: %v", ErrInvalidMultiplier, k)
	}
	if len(bins) == 0 {
		return nil, SeriesStatistics{}, ErrEmptyInput
	}
	for i, b := range bins {
		if b.Index != i+1 {
			return nil, SeriesStatistics{}, fmt.Errorf("%w: position %d has week %d", ErrInvalidBin, i+1, b.Index)
		}
		if b.Count < 0 {
			return nil, SeriesStatistics{}, fmt.Errorf("%w: week %d has negative count", ErrInvalidBin, b.Index)
		}
	}

	n := float64(len(bins))
	total := lo.SumBy(bins, func(b WeekBin) int { return b.Count })
	mean := float64(total) / n
	variance := lo.SumBy(bins, func(b WeekBin) float64 {
		d := float64(b.Count) - mean
		return d * d
	}) / n
	std := math.Sqrt(variance)

	out := slices.Clone(bins)
	for i := range out {
		z, err := ZScore(float64(out[i].Count), mean, std)
		if err != nil {
			z = 0
		}
		out[i].ZScore = z
	}

	return out, SeriesStatistics{
		Weeks:      len(bins),
		Events:     total,
		Mean:       mean,
		StdDev:     std,
		K:          k,
		Threshold:  mean + k*std,
		Degenerate: std == 0,
		Min:        lo.MinBy(bins, func(a, b WeekBin) bool { return a.Count < b.Count }).Count,
		Max:        lo.MaxBy(bins, func(a, b WeekBin) bool { return a.Count > b.Count }).Count,
		Trend:      Trend(bins),
	}, nil
}

// ZScore standardizes value. It refuses a non-positive standard deviation instead of
// producing Inf or NaN.
func ZScore(value, mean, std float64) (float64, error) {
	if std <= 0 || math.IsNaN(std) {
		return 0, ErrDegenerateSeries
	}
	return (value - mean) / std, nil
}

// Percentile interpolates linearly between the closest ranks of the sorted values.
func Percentile(values []float64, p float64) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPercentile, p)
	}
	if len(values) == 0 {
		return 0, ErrEmptyInput
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower], nil
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac, nil
}

// Trend fits count = intercept + slope*index by ordinary least squares.
func Trend(bins []WeekBin) TrendLine {
	switch len(bins) {
	case 0:
		return TrendLine{}
	case 1:
		return TrendLine{Intercept: float64(bins[0].Count)}
	}
	n := float64(len(bins))
	xMean := lo.SumBy(bins, func(b WeekBin) float64 { return float64(b.Index) }) / n
	yMean := lo.SumBy(bins, func(b WeekBin) float64 { return float64(b.Count) }) / n

	var sxx, sxy float64
	for _, b := range bins {
		dx := float64(b.Index) - xMean
		sxx += dx * dx
		sxy += dx * (float64(b.Count) - yMean)
	}
	slope := sxy / sxx
	return TrendLine{Slope: slope, Intercept: yMean - slope*xMean}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// civilDay numbers calendar days so that differences are whole days regardless of
// location or DST.
func civilDay(t time.Time) int64 {
	return dateOnly(t).Unix() / 86400
}
