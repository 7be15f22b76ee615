package campaign

import (
	"sort"
	"time"
)

// SendWindow maps recipient segments to preferred send hours and aligns
// scheduling instants onto them. Hours are whole clock hours in the
// window's location.
type SendWindow struct {
	hours        map[string][]int
	defaultHours []int
	loc          *time.Location
}

// NewSendWindow creates a send window in the given location with the
// given default hours. Segments without their own hours fall back to
// the defaults; an empty default list disables alignment entirely.
func NewSendWindow(loc *time.Location, defaultHours ...int) *SendWindow {
	if loc == nil {
		loc = time.UTC
	}
	return &SendWindow{
		hours:        make(map[string][]int),
		defaultHours: sortedHours(defaultHours),
		loc:          loc,
	}
}

// SetSegmentHours sets the preferred hours for one segment.
func (w *SendWindow) SetSegmentHours(segment string, hours ...int) {
	w.hours[segment] = sortedHours(hours)
}

func sortedHours(hours []int) []int {
	out := make([]int, 0, len(hours))
	for _, h := range hours {
		if h >= 0 && h <= 23 {
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

func (w *SendWindow) hoursFor(segment string) []int {
	if hours, ok := w.hours[segment]; ok && len(hours) > 0 {
		return hours
	}
	return w.defaultHours
}

// Next returns the earliest preferred send instant strictly after t for
// the segment. With businessDaysOnly set, Saturdays and Sundays are
// skipped. When no hours are configured, t is returned unchanged.
func (w *SendWindow) Next(t time.Time, segment string, businessDaysOnly bool) time.Time {
	hours := w.hoursFor(segment)
	if len(hours) == 0 {
		return t
	}

	local := t.In(w.loc)

	// Eight days always contains at least one eligible business day.
	for day := 0; day < 8; day++ {
		date := local.AddDate(0, 0, day)
		if businessDaysOnly && isWeekend(date.Weekday()) {
			continue
		}
		for _, h := range hours {
			candidate := time.Date(date.Year(), date.Month(), date.Day(), h, 0, 0, 0, w.loc)
			if candidate.After(local) {
				return candidate
			}
		}
	}

	return t
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
