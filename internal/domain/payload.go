package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"
)

// Sentinels used by SHOM for missing values.
const (
	MissingTime  = "--:--"
	MissingValue = "---"

	TideHigh = "tide.high"
	TideLow  = "tide.low"
)

// ErrMalformedEntry marks a cached harbor entry that does not match its
// series schema and must be discarded as a whole.
var ErrMalformedEntry = errors.New("malformed cache entry")

// Entry is one harbor's cached data for a series, keyed by date. Values stay
// raw until decoded so a corrupt document can be detected and repaired
// instead of failing the whole store load.
type Entry map[string]json.RawMessage

// Clone returns a shallow copy of the entry.
func (e Entry) Clone() Entry {
	if e == nil {
		return nil
	}
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Dates returns the entry's keys in ascending order.
func (e Entry) Dates() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Put encodes v and stores it under date.
func (e Entry) Put(date string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", date, err)
	}
	e[date] = raw
	return nil
}

// TideEvent is one high or low water. It is stored as a four element array
// [type, time, height, coefficient] to match the upstream representation.
type TideEvent struct {
	Type        string
	Time        string
	Height      string
	Coefficient string
}

// Usable reports whether the event carries a real time and height.
func (t TideEvent) Usable() bool {
	return t.Time != MissingTime && t.Time != "" && t.Height != MissingValue && t.Height != ""
}

func (t TideEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]string{t.Type, t.Time, t.Height, t.Coefficient})
}

func (t *TideEvent) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("tide event: %w", err)
	}
	if len(parts) != 4 {
		return fmt.Errorf("tide event: want 4 fields, got %d", len(parts))
	}
	fields := make([]string, 4)
	for i, p := range parts {
		s, err := looseString(p)
		if err != nil {
			return fmt.Errorf("tide event field %d: %w", i, err)
		}
		fields[i] = s
	}
	*t = TideEvent{Type: fields[0], Time: fields[1], Height: fields[2], Coefficient: fields[3]}
	return nil
}

// WaterLevelSample is a [time, height] pair at five minute resolution.
type WaterLevelSample struct {
	Time   string
	Height string
}

func (w WaterLevelSample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{w.Time, w.Height})
}

func (w *WaterLevelSample) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("water level sample: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("water level sample: want 2 fields, got %d", len(parts))
	}
	tm, err := looseString(parts[0])
	if err != nil {
		return fmt.Errorf("water level time: %w", err)
	}
	h, err := looseString(parts[1])
	if err != nil {
		return fmt.Errorf("water level height: %w", err)
	}
	*w = WaterLevelSample{Time: tm, Height: h}
	return nil
}

// WaterTempSample is one forecast point.
type WaterTempSample struct {
	DateTime string  `json:"datetime"`
	Temp     float64 `json:"temp"`
}

// Instant parses the sample timestamp. Offsets are honoured when present,
// otherwise the time is read in loc.
func (w WaterTempSample) Instant(loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, w.DateTime); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, w.DateTime, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable water temperature datetime %q", w.DateTime)
}

// DatePart returns the YYYY-MM-DD prefix of the timestamp.
func (w WaterTempSample) DatePart() string {
	if len(w.DateTime) < len(DateFormat) {
		return w.DateTime
	}
	return w.DateTime[:len(DateFormat)]
}

// looseString accepts a JSON string, number or null.
func looseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected string or number, got %s", raw)
}

func decodeEntry[T any](e Entry) (map[string][]T, error) {
	out := make(map[string][]T, len(e))
	for date, raw := range e {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, fmt.Errorf("%w: date %s is not a list", ErrMalformedEntry, date)
		}
		var v []T
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("%w: date %s: %v", ErrMalformedEntry, date, err)
		}
		out[date] = v
	}
	return out, nil
}

// DecodeTides decodes a tide entry.
func DecodeTides(e Entry) (map[string][]TideEvent, error) {
	return decodeEntry[TideEvent](e)
}

// DecodeCoefficients decodes a coefficient entry.
func DecodeCoefficients(e Entry) (map[string][]string, error) {
	return decodeEntry[string](e)
}

// DecodeWaterLevels decodes a water level entry.
func DecodeWaterLevels(e Entry) (map[string][]WaterLevelSample, error) {
	return decodeEntry[WaterLevelSample](e)
}

// DecodeWaterTemps decodes a water temperature entry.
func DecodeWaterTemps(e Entry) (map[string][]WaterTempSample, error) {
	return decodeEntry[WaterTempSample](e)
}

// CheckShape validates a harbor entry against its series schema. A single bad
// date fails the whole entry. Empty entries are only acceptable for water
// levels, which normally hold just the current day.
func CheckShape(kind Kind, e Entry) error {
	if len(e) == 0 {
		if kind == KindWaterLevels {
			return nil
		}
		return fmt.Errorf("%w: empty %s entry", ErrMalformedEntry, kind)
	}
	var err error
	switch kind {
	case KindTides:
		_, err = DecodeTides(e)
	case KindCoefficients:
		_, err = DecodeCoefficients(e)
	case KindWaterLevels:
		_, err = DecodeWaterLevels(e)
	case KindWaterTemp:
		_, err = DecodeWaterTemps(e)
	default:
		err = fmt.Errorf("unknown kind %q", kind)
	}
	return err
}

// NumericCoefficients keeps the all-digit values of a day's coefficients.
func NumericCoefficients(values []string) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !isDigits(v) {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// MaxCoefficient returns the day's highest numeric coefficient.
func MaxCoefficient(values []string) (int, bool) {
	nums := NumericCoefficients(values)
	if len(nums) == 0 {
		return 0, false
	}
	return slices.Max(nums), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
