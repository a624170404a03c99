package domain

import (
	"log/slog"
	"sort"
	"strconv"
	"time"
)

// Coefficient thresholds for spring and neap classification.
const (
	SpringThreshold = 100
	NeapThreshold   = 40
)

// WaterHeightTolerance is the largest gap between "now" and a water level
// sample for that sample to count as the current height.
const WaterHeightTolerance = 15 * time.Minute

// Trend values carried by tide windows.
const (
	TrendRising   = "rising"
	TrendFalling  = "falling"
	TrendHighTide = "tide_high"
	TrendLowTide  = "tide_low"
)

// TideWindow describes a span between two tide instants. For a discrete
// event both instants are the event itself and StartingHeight is the height
// of the event before it.
type TideWindow struct {
	Trend          string    `json:"trend"`
	StartingTime   time.Time `json:"starting_time"`
	FinishedTime   time.Time `json:"finished_time"`
	StartingHeight *string   `json:"starting_height,omitempty"`
	FinishedHeight string    `json:"finished_height"`
	Coefficient    *string   `json:"coefficient,omitempty"`
}

// CoefficientDay is a calendar day and its highest numeric coefficient.
type CoefficientDay struct {
	Date        string `json:"date"`
	Coefficient int    `json:"coefficient"`
}

// View is the merged state of a harbor at a given instant. Fields that could
// not be derived are omitted.
type View struct {
	Harbor                  string           `json:"harbor"`
	Current                 *TideWindow      `json:"current,omitempty"`
	Next                    *TideWindow      `json:"next,omitempty"`
	Previous                *TideWindow      `json:"previous,omitempty"`
	NextSpring              *CoefficientDay  `json:"next_spring,omitempty"`
	NextNeap                *CoefficientDay  `json:"next_neap,omitempty"`
	CurrentWaterHeight      *float64         `json:"current_water_height,omitempty"`
	CurrentWaterTemperature *WaterTempSample `json:"current_water_temperature,omitempty"`
	LastUpdate              time.Time        `json:"last_update"`
}

// ViewInput carries the decoded series a view is built from. WaterLevels
// holds the samples of the current day only.
type ViewInput struct {
	Harbor       string
	Tides        map[string][]TideEvent
	Coefficients map[string][]string
	WaterLevels  []WaterLevelSample
	WaterTemps   map[string][]WaterTempSample
}

type flatTide struct {
	event TideEvent
	date  string
	at    time.Time
}

// BuildView merges the input series into a View as of now. Times are read in
// loc, the harbor's civil timezone.
func BuildView(in ViewInput, now time.Time, loc *time.Location, logger *slog.Logger) View {
	v := View{Harbor: in.Harbor, LastUpdate: now.UTC()}

	tides := flattenTides(in.Tides, loc, logger)
	backfillCoefficients(tides, in.Coefficients)

	nextIdx := sort.Search(len(tides), func(i int) bool { return tides[i].at.After(now) })
	if nextIdx < len(tides) {
		v.Next = eventWindow(tides, nextIdx)
	}
	if nextIdx > 0 && nextIdx < len(tides) {
		v.Previous = eventWindow(tides, nextIdx-1)
		prev, next := tides[nextIdx-1], tides[nextIdx]
		trend := TrendFalling
		if prev.event.Type == TideLow {
			trend = TrendRising
		}
		startHeight := prev.event.Height
		v.Current = &TideWindow{
			Trend:          trend,
			StartingTime:   prev.at.UTC(),
			FinishedTime:   next.at.UTC(),
			StartingHeight: &startHeight,
			FinishedHeight: next.event.Height,
			Coefficient:    optional(next.event.Coefficient),
		}
	}

	today := FormatDate(LocalDay(now, loc))
	v.CurrentWaterHeight = currentWaterHeight(in.WaterLevels, today, now, loc)
	v.CurrentWaterTemperature = currentWaterTemp(in.WaterTemps, now, loc)
	v.NextSpring, v.NextNeap = nextSpringNeap(in.Coefficients, today)
	return v
}

func flattenTides(days map[string][]TideEvent, loc *time.Location, logger *slog.Logger) []flatTide {
	var out []flatTide
	for date, events := range days {
		for _, ev := range events {
			if !ev.Usable() {
				continue
			}
			at, err := LocalInstant(date, ev.Time, loc)
			if err != nil {
				logger.Warn("skipping tide event with unparsable time", "date", date, "time", ev.Time, "error", err)
				continue
			}
			if ev.Coefficient == MissingValue {
				ev.Coefficient = ""
			}
			out = append(out, flatTide{event: ev, date: date, at: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// backfillCoefficients gives events without a coefficient the day's maximum.
func backfillCoefficients(tides []flatTide, coeffs map[string][]string) {
	for i := range tides {
		if tides[i].event.Coefficient != "" {
			continue
		}
		if m, ok := MaxCoefficient(coeffs[tides[i].date]); ok {
			tides[i].event.Coefficient = strconv.Itoa(m)
		}
	}
}

func eventWindow(tides []flatTide, idx int) *TideWindow {
	ev := tides[idx]
	trend := TrendLowTide
	if ev.event.Type == TideHigh {
		trend = TrendHighTide
	}
	w := &TideWindow{
		Trend:          trend,
		StartingTime:   ev.at.UTC(),
		FinishedTime:   ev.at.UTC(),
		FinishedHeight: ev.event.Height,
		Coefficient:    optional(ev.event.Coefficient),
	}
	if idx > 0 {
		h := tides[idx-1].event.Height
		w.StartingHeight = &h
	}
	return w
}

func currentWaterHeight(samples []WaterLevelSample, today string, now time.Time, loc *time.Location) *float64 {
	var (
		closest string
		minDiff = time.Duration(-1)
	)
	for _, s := range samples {
		at, err := LocalInstant(today, s.Time, loc)
		if err != nil {
			continue
		}
		diff := now.Sub(at).Abs()
		if minDiff < 0 || diff < minDiff {
			minDiff = diff
			closest = s.Height
		}
	}
	if minDiff < 0 || minDiff > WaterHeightTolerance {
		return nil
	}
	h, err := strconv.ParseFloat(closest, 64)
	if err != nil {
		return nil
	}
	return &h
}

func currentWaterTemp(days map[string][]WaterTempSample, now time.Time, loc *time.Location) *WaterTempSample {
	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var latest *WaterTempSample
	for _, d := range dates {
		for _, s := range days[d] {
			at, err := s.Instant(loc)
			if err != nil {
				continue
			}
			if at.After(now) {
				return latest
			}
			sample := s
			latest = &sample
		}
	}
	return latest
}

// nextSpringNeap scans coefficient days from today onwards in a single pass.
func nextSpringNeap(coeffs map[string][]string, today string) (spring, neap *CoefficientDay) {
	dates := make([]string, 0, len(coeffs))
	for d := range coeffs {
		if d >= today {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	for _, d := range dates {
		m, ok := MaxCoefficient(coeffs[d])
		if !ok {
			continue
		}
		if spring == nil && m >= SpringThreshold {
			spring = &CoefficientDay{Date: d, Coefficient: m}
		}
		if neap == nil && m <= NeapThreshold {
			neap = &CoefficientDay{Date: d, Coefficient: m}
		}
		if spring != nil && neap != nil {
			break
		}
	}
	return spring, neap
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
