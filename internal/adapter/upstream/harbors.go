package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// HarborInfo is one entry of the SHOM harbor directory.
type HarborInfo struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// Display renders "Name (ID)".
func (h HarborInfo) Display() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.ID)
}

type wfsResponse struct {
	Features *[]wfsFeature `json:"features"`
}

type wfsFeature struct {
	Properties *wfsProperties `json:"properties"`
}

type wfsProperties struct {
	Cst      string          `json:"cst" validate:"required"`
	Toponyme string          `json:"toponyme" validate:"required"`
	Lat      json.RawMessage `json:"lat"`
	Lon      json.RawMessage `json:"lon"`
	Ut       json.RawMessage `json:"ut"`
	Nota     json.RawMessage `json:"nota"`
}

// skipped reports harbors without a time reference or flagged nota 6,
// which SHOM does not serve predictions for.
func (p wfsProperties) skipped() bool {
	if len(p.Ut) == 0 || string(p.Ut) == "null" {
		return true
	}
	nota, err := parseNumber(p.Nota)
	return err == nil && nota == 6
}

// Harbors fetches the SHOM harbor directory keyed by harbor id.
func (c *Client) Harbors(ctx context.Context) (map[string]HarborInfo, error) {
	raw, err := c.fetcher.Fetch(ctx, Request{
		Domain:  "harbors",
		Harbor:  "*",
		URL:     c.endpoints.HarborsURL,
		Timeout: harborsTimeout,
	})
	if err != nil {
		return nil, err
	}

	var resp wfsResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Features == nil {
		return nil, fmt.Errorf("%w: harbors: missing features", ErrUnexpectedShape)
	}

	out := make(map[string]HarborInfo)
	for _, f := range *resp.Features {
		p := f.Properties
		if p == nil || c.validate.Struct(p) != nil || p.skipped() {
			continue
		}
		info := HarborInfo{ID: p.Cst, Name: p.Toponyme}
		if lat, err := parseNumber(p.Lat); err == nil {
			info.Lat = &lat
		}
		if lon, err := parseNumber(p.Lon); err == nil {
			info.Lon = &lon
		}
		out[p.Cst] = info
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: harbors: no usable harbor in response", ErrUnexpectedShape)
	}
	return out, nil
}

// SortedHarbors orders a directory by display name.
func SortedHarbors(dir map[string]HarborInfo) []HarborInfo {
	out := make([]HarborInfo, 0, len(dir))
	for _, h := range dir {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Display() < out[j].Display() })
	return out
}

// ApplyCoordinates fills missing harbor coordinates from the directory and
// reports whether anything changed.
func ApplyCoordinates(h *domain.Harbor, dir map[string]HarborInfo) bool {
	if h.HasCoordinates() {
		return false
	}
	info, ok := dir[h.ID]
	if !ok || info.Lat == nil || info.Lon == nil {
		return false
	}
	lat, lon := *info.Lat, *info.Lon
	h.Lat, h.Lon = &lat, &lon
	if h.Name == "" {
		h.Name = info.Name
	}
	return true
}
