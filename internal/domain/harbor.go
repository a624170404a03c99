package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies one of the four cached data series.
type Kind string

const (
	KindTides        Kind = "tides"
	KindCoefficients Kind = "coefficients"
	KindWaterLevels  Kind = "water_levels"
	KindWaterTemp    Kind = "water_temp"
)

// Kinds lists every series in the order a refresh cycle visits them.
var Kinds = []Kind{KindTides, KindCoefficients, KindWaterLevels, KindWaterTemp}

// ParseKind maps a user supplied name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTides, KindCoefficients, KindWaterLevels, KindWaterTemp:
		return Kind(s), nil
	case "watertemp", "water-temp", "water_temperature":
		return KindWaterTemp, nil
	case "water-levels":
		return KindWaterLevels, nil
	}
	return "", fmt.Errorf("unknown data kind %q", s)
}

// ErrUnknownHarbor is returned when a harbor id is not configured.
var ErrUnknownHarbor = errors.New("unknown harbor")

// Harbor is a tracked location. Coordinates are optional and are backfilled
// from the SHOM harbor directory when absent.
type Harbor struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name"`
	Lat      *float64 `json:"lat,omitempty" yaml:"lat"`
	Lon      *float64 `json:"lon,omitempty" yaml:"lon"`
	Timezone string   `json:"timezone,omitempty" yaml:"timezone"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (h Harbor) HasCoordinates() bool {
	return h.Lat != nil && h.Lon != nil
}

// Location resolves the harbor's civil timezone. Config validates timezones
// at load, so an unresolvable name falls back to UTC.
func (h Harbor) Location() *time.Location {
	loc, err := LoadLocation(h.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LatString and LonString format coordinates for upstream query strings.
func (h Harbor) LatString() string { return formatCoord(h.Lat) }
func (h Harbor) LonString() string { return formatCoord(h.Lon) }

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
