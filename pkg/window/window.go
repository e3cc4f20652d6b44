// Package window selects the traffic observation window a run optimizes for.
package window

import (
	"sort"
	"time"

	"github.com/newtron-network/fibopt/pkg/util"
)

// TimeFormat is the timestamp layout used by the analytics service.
const TimeFormat = "2006-01-02T15:04:05"

// DefaultMaxAge is the freshness limit for the newest observation.
const DefaultMaxAge = 48 * time.Hour

// Window is an inclusive observation range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) String() string {
	return w.Start.Format(TimeFormat) + " - " + w.End.Format(TimeFormat)
}

// Select picks the window ending at the newest available timestamp and
// starting age positions back from it, or at the oldest timestamp when fewer
// than age are available.
func Select(available []time.Time, age int) (Window, error) {
	if len(available) == 0 {
		return Window{}, util.ErrNoData
	}
	if age < 1 {
		return Window{}, util.NewValidationError("age must be at least 1")
	}

	dates := make([]time.Time, len(available))
	copy(dates, available)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	start := dates[0]
	if len(dates) >= age {
		start = dates[len(dates)-age]
	}
	return Window{Start: start, End: dates[len(dates)-1]}, nil
}

// CheckFreshness rejects a window whose end is more than maxAge before now.
func CheckFreshness(w Window, now time.Time, maxAge time.Duration) error {
	if age := now.Sub(w.End); age > maxAge {
		return &util.StaleDataError{End: w.End, Age: age, Max: maxAge}
	}
	return nil
}

// SelectFresh combines Select and CheckFreshness.
func SelectFresh(available []time.Time, age int, now time.Time, maxAge time.Duration) (Window, error) {
	w, err := Select(available, age)
	if err != nil {
		return Window{}, err
	}
	if err := CheckFreshness(w, now, maxAge); err != nil {
		return Window{}, err
	}
	return w, nil
}

// ParseTimes parses analytics timestamps in TimeFormat.
func ParseTimes(raw []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.ParseInLocation(TimeFormat, s, time.Local)
		if err != nil {
			return nil, util.NewValidationError("invalid timestamp " + s)
		}
		out = append(out, t)
	}
	return out, nil
}
