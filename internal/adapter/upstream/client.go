// Package upstream talks to the SHOM tide services and the Meteo Consult
// forecast service. Every payload is decoded into explicit types here so
// nothing malformed reaches the caches.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// ErrUnexpectedShape is returned when a response decodes as JSON but does not
// match the endpoint's schema.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// Per-endpoint request timeouts.
const (
	tidesBaseTimeout    = 15 * time.Second
	tidesPerDayTimeout  = 5 * time.Second
	coefficientsTimeout = 60 * time.Second
	waterLevelsTimeout  = 30 * time.Second
	waterTempTimeout    = 30 * time.Second
	harborsTimeout      = 20 * time.Second
)

// Endpoints are the base URLs of the upstream services.
type Endpoints struct {
	SHOMBase   string // .../hdm/spm
	HarborsURL string // WFS harbor list
	MeteoBase  string // .../androidtab/115/fr/v30
}

// RawFetcher is the transport the client builds on.
type RawFetcher interface {
	Fetch(ctx context.Context, req Request) (json.RawMessage, error)
}

// Client builds endpoint URLs and decodes their responses.
type Client struct {
	fetcher   RawFetcher
	endpoints Endpoints
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewClient creates an upstream client.
func NewClient(fetcher RawFetcher, endpoints Endpoints, logger *slog.Logger) *Client {
	return &Client{
		fetcher:   fetcher,
		endpoints: endpoints,
		validate:  newValidator(),
		logger:    logger,
	}
}

func (c *Client) shomURL(path string, params url.Values) string {
	return c.endpoints.SHOMBase + "/" + path + "?" + params.Encode()
}

// Tides fetches high/low water events for days consecutive days from start.
// The result maps each returned date to its events.
func (c *Client) Tides(ctx context.Context, harborID string, start time.Time, days int) (map[string][]domain.TideEvent, error) {
	u := c.shomURL("hlt", url.Values{
		"harborName":  {harborID},
		"date":        {domain.FormatDate(start)},
		"utc":         {"standard"},
		"correlation": {"1"},
		"duration":    {strconv.Itoa(days)},
	})
	raw, err := c.fetcher.Fetch(ctx, Request{
		Domain:  string(domain.KindTides),
		Harbor:  harborID,
		URL:     u,
		Timeout: tidesBaseTimeout + time.Duration(days)*tidesPerDayTimeout,
	})
	if err != nil {
		return nil, err
	}

	var byDate map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byDate); err != nil || byDate == nil {
		return nil, fmt.Errorf("%w: tides: expected object keyed by date", ErrUnexpectedShape)
	}
	out, err := domain.DecodeTides(domain.Entry(byDate))
	if err != nil {
		return nil, fmt.Errorf("%w: tides: %v", ErrUnexpectedShape, err)
	}
	return out, nil
}

// CoefficientDays is the decoded coefficient response. Processed counts the
// day slots consumed, including days that carried no usable value.
type CoefficientDays struct {
	Days      map[string][]string
	Processed int
}

// Coefficients fetches daily coefficients for days days from start. The
// response is a list of months, each a list of days, each a list of values
// given either as strings or as single-element string lists. Days are
// assigned in order from start.
func (c *Client) Coefficients(ctx context.Context, harborID string, start time.Time, days int) (CoefficientDays, error) {
	u := c.shomURL("coeff", url.Values{
		"harborName":  {harborID},
		"duration":    {strconv.Itoa(days)},
		"date":        {domain.FormatDate(start)},
		"utc":         {"1"},
		"correlation": {"1"},
	})
	raw, err := c.fetcher.Fetch(ctx, Request{
		Domain:  string(domain.KindCoefficients),
		Harbor:  harborID,
		URL:     u,
		Timeout: coefficientsTimeout,
	})
	if err != nil {
		return CoefficientDays{}, err
	}

	var months []json.RawMessage
	if err := json.Unmarshal(raw, &months); err != nil {
		return CoefficientDays{}, fmt.Errorf("%w: coefficients: expected list of months", ErrUnexpectedShape)
	}

	result := CoefficientDays{Days: make(map[string][]string)}
	log := c.logger.With("harbor", harborID, "domain", string(domain.KindCoefficients))
	for _, month := range months {
		var monthDays []json.RawMessage
		if err := json.Unmarshal(month, &monthDays); err != nil {
			log.Warn("skipping coefficient month that is not a list")
			continue
		}
		for _, day := range monthDays {
			if result.Processed >= days {
				return result, nil
			}
			date := domain.FormatDate(domain.AddDays(start, result.Processed))
			result.Processed++

			values, ok := parseCoefficientDay(day)
			if !ok {
				log.Warn("skipping coefficient day with unexpected format", "date", date)
				continue
			}
			if len(values) == 0 {
				log.Warn("no coefficient values for day", "date", date)
				continue
			}
			result.Days[date] = values
		}
	}
	return result, nil
}

// parseCoefficientDay normalizes one day's values to plain strings. Items of
// any other shape are dropped.
func parseCoefficientDay(raw json.RawMessage) ([]string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			values = append(values, s)
			continue
		}
		var wrapped []string
		if err := json.Unmarshal(item, &wrapped); err == nil && len(wrapped) == 1 {
			values = append(values, wrapped[0])
		}
	}
	return values, true
}

// WaterLevels fetches the five minute water level samples of one date. The
// response must be an object holding the requested date as a list of
// samples; any deviation rejects the whole response.
func (c *Client) WaterLevels(ctx context.Context, harborID string, date time.Time) ([]domain.WaterLevelSample, error) {
	dateKey := domain.FormatDate(date)
	u := c.shomURL("wl", url.Values{
		"harborName":    {harborID},
		"duration":      {"1"},
		"date":          {dateKey},
		"utc":           {"standard"},
		"nbWaterLevels": {"288"},
	})
	raw, err := c.fetcher.Fetch(ctx, Request{
		Domain:  string(domain.KindWaterLevels),
		Harbor:  harborID,
		URL:     u,
		Timeout: waterLevelsTimeout,
	})
	if err != nil {
		return nil, err
	}

	var byDate map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byDate); err != nil {
		return nil, fmt.Errorf("%w: water levels: expected object keyed by date", ErrUnexpectedShape)
	}
	day, ok := byDate[dateKey]
	if !ok {
		return nil, fmt.Errorf("%w: water levels: date %s missing", ErrUnexpectedShape, dateKey)
	}
	decoded, err := domain.DecodeWaterLevels(domain.Entry{dateKey: day})
	if err != nil {
		return nil, fmt.Errorf("%w: water levels: %v", ErrUnexpectedShape, err)
	}
	samples := decoded[dateKey]
	if samples == nil {
		samples = []domain.WaterLevelSample{}
	}
	return samples, nil
}

type forecastResponse struct {
	Contenu struct {
		Previs struct {
			Detail *[]forecastEntry `json:"detail"`
		} `json:"previs"`
	} `json:"contenu"`
}

type forecastEntry struct {
	Datetime string          `json:"datetime" validate:"required,min=10"`
	Teau     json.RawMessage `json:"teau"`
}

// WaterTemps fetches the hourly sea temperature forecast at a position.
// Entries without a temperature are dropped.
func (c *Client) WaterTemps(ctx context.Context, harborID, lat, lon string) ([]domain.WaterTempSample, error) {
	u := c.endpoints.MeteoBase + "/previsionsSpot.php?" + url.Values{"lat": {lat}, "lon": {lon}}.Encode()
	raw, err := c.fetcher.Fetch(ctx, Request{
		Domain:  string(domain.KindWaterTemp),
		Harbor:  harborID,
		URL:     u,
		Timeout: waterTempTimeout,
	})
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Contenu.Previs.Detail == nil {
		return nil, fmt.Errorf("%w: water temperature: contenu.previs.detail is not a list", ErrUnexpectedShape)
	}

	var out []domain.WaterTempSample
	for _, e := range *resp.Contenu.Previs.Detail {
		if len(e.Teau) == 0 || string(e.Teau) == "null" {
			continue
		}
		if err := c.validate.Struct(e); err != nil {
			c.logger.Debug("skipping forecast entry", "harbor", harborID, "error", err)
			continue
		}
		temp, err := parseNumber(e.Teau)
		if err != nil {
			c.logger.Debug("skipping forecast entry with unreadable temperature", "harbor", harborID, "datetime", e.Datetime)
			continue
		}
		out = append(out, domain.WaterTempSample{DateTime: e.Datetime, Temp: temp})
	}
	return out, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
