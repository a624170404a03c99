package domain

import "time"

// Retention windows per series, relative to today in the harbor timezone.
const (
	TideWindowDays        = 8   // yesterday through today+6
	CoefficientWindowDays = 365 // first of month onwards
	WaterLevelWindowDays  = 8   // today through today+7
	WaterTempWindowDays   = 7   // today through today+6
)

// RetentionBoundary returns the earliest date kept for a series.
func RetentionBoundary(kind Kind, today time.Time) time.Time {
	switch kind {
	case KindTides:
		return AddDays(today, -1)
	case KindCoefficients:
		return FirstOfMonth(today)
	default:
		return today
	}
}

// PruneBefore removes dates strictly before boundary along with keys that do
// not parse as dates. It returns the pruned entry and the removed keys. The
// input entry is not modified.
func PruneBefore(e Entry, boundary time.Time) (Entry, []string) {
	var removed []string
	out := make(Entry, len(e))
	for _, key := range e.Dates() {
		d, err := ParseDate(key)
		if err != nil || d.Before(boundary) {
			removed = append(removed, key)
			continue
		}
		out[key] = e[key]
	}
	return out, removed
}

// MissingDates returns the dates absent from e, preserving order.
func MissingDates(e Entry, dates []string) []string {
	var missing []string
	for _, d := range dates {
		if _, ok := e[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// FirstGap returns the index of the first date absent from e, or -1. It also
// reports whether cached dates reappear after that gap.
func FirstGap(e Entry, dates []string) (idx int, cachedAfterGap bool) {
	idx = -1
	for i, d := range dates {
		_, ok := e[d]
		if idx == -1 {
			if !ok {
				idx = i
			}
			continue
		}
		if ok {
			return idx, true
		}
	}
	return idx, false
}
