// Package coordinator owns the per-harbor refresh cycle and the query
// surface over the caches.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/ingest"
)

// ErrUnknownHarbor is returned for harbor ids that are not configured.
var ErrUnknownHarbor = domain.ErrUnknownHarbor

// ErrInvalidCache is returned when a harbor's tide cache is missing or does
// not have the expected shape.
var ErrInvalidCache = errors.New("invalid or missing cache")

// ErrInvalidArgument marks a malformed query parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// Service answers queries for every configured harbor.
type Service struct {
	ing    *ingest.Ingester
	order  []string
	byID   map[string]*Coordinator
	logger *slog.Logger
}

// NewService creates a Service over one coordinator per harbor.
func NewService(ing *ingest.Ingester, coordinators []*Coordinator, logger *slog.Logger) *Service {
	s := &Service{
		ing:    ing,
		byID:   make(map[string]*Coordinator, len(coordinators)),
		logger: logger,
	}
	for _, c := range coordinators {
		id := c.Harbor().ID
		s.order = append(s.order, id)
		s.byID[id] = c
	}
	return s
}

// Coordinator returns the coordinator of a harbor.
func (s *Service) Coordinator(harborID string) (*Coordinator, error) {
	c, ok := s.byID[harborID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHarbor, harborID)
	}
	return c, nil
}

// Coordinators returns every coordinator in configuration order.
func (s *Service) Coordinators() []*Coordinator {
	out := make([]*Coordinator, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Harbors returns the configured harbors with any backfilled coordinates.
func (s *Service) Harbors() []domain.Harbor {
	out := make([]domain.Harbor, 0, len(s.order))
	for _, c := range s.Coordinators() {
		out = append(out, c.Harbor())
	}
	return out
}

// CheckReadiness returns nil once every harbor has published a view.
func (s *Service) CheckReadiness(ctx context.Context) error {
	for _, c := range s.Coordinators() {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Status returns a harbor's coordinator status.
func (s *Service) Status(harborID string) (Status, error) {
	c, err := s.Coordinator(harborID)
	if err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// GetView returns the current view of a harbor. A stale view is returned
// as is; Status carries the staleness.
func (s *Service) GetView(harborID string) (domain.View, error) {
	st, err := s.Status(harborID)
	if err != nil {
		return domain.View{}, err
	}
	if st.View == nil {
		return domain.View{}, fmt.Errorf("harbor %s: %w", harborID, ErrNoView)
	}
	return *st.View, nil
}

// GetTideEvents returns every cached tide event of a harbor.
func (s *Service) GetTideEvents(ctx context.Context, harborID string) (map[string][]domain.TideEvent, error) {
	if _, err := s.Coordinator(harborID); err != nil {
		return nil, err
	}
	entry, err := s.ing.Stores().Tides.Harbor(ctx, harborID)
	if errors.Is(err, domain.ErrMalformedEntry) {
		return nil, fmt.Errorf("%w: tides for %s: %v", ErrInvalidCache, harborID, err)
	}
	if err != nil {
		return nil, err
	}
	if len(entry) == 0 {
		return nil, fmt.Errorf("%w: no cached tides for %s", ErrInvalidCache, harborID)
	}
	tides, err := domain.DecodeTides(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: tides for %s: %v", ErrInvalidCache, harborID, err)
	}
	return tides, nil
}

// GetCoefficients returns cached coefficients. With neither date nor days
// every cached day is returned; date alone selects that day; days alone
// counts from today; both count days from date.
func (s *Service) GetCoefficients(ctx context.Context, harborID, date string, days int) (map[string][]string, error) {
	c, err := s.Coordinator(harborID)
	if err != nil {
		return nil, err
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidArgument)
	}

	entry, err := s.ing.Stores().Coefficients.Harbor(ctx, harborID)
	if err != nil && !errors.Is(err, domain.ErrMalformedEntry) {
		return nil, err
	}

	var selected domain.Entry
	switch {
	case date == "" && days == 0:
		selected = entry
	default:
		start := s.ing.Today(c.Harbor())
		if date != "" {
			if start, err = domain.ParseDate(date); err != nil {
				return nil, err
			}
		}
		if days == 0 {
			days = 1
		}
		selected = domain.Entry{}
		for _, d := range domain.DateRange(start, days) {
			if raw, ok := entry[d]; ok {
				selected[d] = raw
			}
		}
	}

	if len(selected) == 0 {
		return map[string][]string{}, nil
	}
	out, err := domain.DecodeCoefficients(selected)
	if err != nil {
		return nil, fmt.Errorf("%w: coefficients for %s: %v", ErrInvalidCache, harborID, err)
	}
	return out, nil
}

// GetWaterLevels returns the samples of one date. Dates before today are
// pruned from the cache first; a miss is fetched and stored.
func (s *Service) GetWaterLevels(ctx context.Context, harborID, date string) ([]domain.WaterLevelSample, error) {
	c, err := s.Coordinator(harborID)
	if err != nil {
		return nil, err
	}
	day, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}

	h := c.Harbor()
	if _, err := s.ing.Prune(ctx, domain.KindWaterLevels, h); err != nil {
		s.logger.Warn("water level prune failed", "harbor", harborID, "error", err)
	}

	entry, err := s.ing.Stores().WaterLevels.Harbor(ctx, harborID)
	if err != nil && !errors.Is(err, domain.ErrMalformedEntry) {
		return nil, err
	}
	if raw, ok := entry[date]; ok {
		decoded, err := domain.DecodeWaterLevels(domain.Entry{date: raw})
		if err == nil {
			return decoded[date], nil
		}
		s.logger.Warn("cached water levels unreadable, refetching", "harbor", harborID, "date", date, "error", err)
	} else {
		s.logger.Info("water level cache miss, fetching", "harbor", harborID, "date", date)
	}
	return c.FetchWaterLevel(ctx, day)
}

// GetWaterTemperature returns cached water temperature samples, either for
// one date or for every cached date.
func (s *Service) GetWaterTemperature(ctx context.Context, harborID, date string) (map[string][]domain.WaterTempSample, error) {
	if _, err := s.Coordinator(harborID); err != nil {
		return nil, err
	}
	if date != "" {
		if _, err := domain.ParseDate(date); err != nil {
			return nil, err
		}
	}

	entry, err := s.ing.Stores().WaterTemp.Harbor(ctx, harborID)
	if err != nil && !errors.Is(err, domain.ErrMalformedEntry) {
		return nil, err
	}
	if date != "" {
		raw, ok := entry[date]
		if !ok {
			return map[string][]domain.WaterTempSample{date: {}}, nil
		}
		entry = domain.Entry{date: raw}
	}
	out, err := domain.DecodeWaterTemps(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: water temperature for %s: %v", ErrInvalidCache, harborID, err)
	}
	return out, nil
}

// Prefetch runs one series' prefetch for every harbor.
func (s *Service) Prefetch(ctx context.Context, kind domain.Kind) {
	s.ing.PrefetchAll(ctx, kind, s.Harbors())
}

// Reinitialize clears every cache of a harbor, refetches the default ranges
// and runs a refresh cycle. It returns the series whose refetch failed.
func (s *Service) Reinitialize(ctx context.Context, harborID string) ([]domain.Kind, error) {
	c, err := s.Coordinator(harborID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("harbor", harborID)
	log.Info("reinitializing harbor data")

	for _, kind := range domain.Kinds {
		if err := s.ing.Stores().For(kind).Delete(ctx, harborID); err != nil {
			return nil, fmt.Errorf("clear %s: %w", kind, err)
		}
	}

	h := c.Harbor()
	today := s.ing.Today(h)
	fetches := map[domain.Kind]func(context.Context) bool{
		domain.KindTides: func(ctx context.Context) bool {
			return s.ing.FetchTides(ctx, h, domain.AddDays(today, -1), domain.TideWindowDays)
		},
		domain.KindCoefficients: func(ctx context.Context) bool {
			return s.ing.FetchCoefficients(ctx, h, domain.FirstOfMonth(today), domain.CoefficientWindowDays)
		},
		domain.KindWaterLevels: func(ctx context.Context) bool {
			_, err := c.FetchWaterLevel(ctx, today)
			return err == nil
		},
	}
	if h.HasCoordinates() {
		fetches[domain.KindWaterTemp] = func(ctx context.Context) bool {
			return s.ing.FetchWaterTemp(ctx, h)
		}
	}

	var (
		mu     sync.Mutex
		failed []domain.Kind
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range domain.Kinds {
		fetch, ok := fetches[kind]
		if !ok {
			continue
		}
		g.Go(func() error {
			if !fetch(gctx) {
				mu.Lock()
				failed = append(failed, kind)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed = sortKinds(failed)
	if len(failed) > 0 {
		log.Warn("reinitialization incomplete", "failed", failed)
	}

	if err := c.Refresh(ctx); err != nil {
		log.Warn("refresh after reinitialization failed", "error", err)
	}
	return failed, nil
}

// sortKinds orders kinds as domain.Kinds does.
func sortKinds(kinds []domain.Kind) []domain.Kind {
	var out []domain.Kind
	for _, k := range domain.Kinds {
		for _, f := range kinds {
			if f == k {
				out = append(out, k)
			}
		}
	}
	return out
}
