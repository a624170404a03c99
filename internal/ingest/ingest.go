// Package ingest moves upstream data into the domain stores: the
// per-series fetch-and-store adapters, cache validation with coarse repair,
// and the daily prefetch passes.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/observability"
	"github.com/couchcryptid/tide-data-service/internal/store"
)

// Source fetches and decodes upstream series. *upstream.Client satisfies it.
type Source interface {
	Tides(ctx context.Context, harborID string, start time.Time, days int) (map[string][]domain.TideEvent, error)
	Coefficients(ctx context.Context, harborID string, start time.Time, days int) (upstream.CoefficientDays, error)
	WaterLevels(ctx context.Context, harborID string, date time.Time) ([]domain.WaterLevelSample, error)
	WaterTemps(ctx context.Context, harborID, lat, lon string) ([]domain.WaterTempSample, error)
}

// Ingester owns the write path into the stores. Fetches run outside the
// store lock; merges run inside DomainStore.Update.
type Ingester struct {
	source          Source
	stores          *store.Stores
	clock           clockwork.Clock
	waterLevelPause time.Duration
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// New creates an Ingester. waterLevelPause separates consecutive per-date
// water level requests during prefetch.
func New(source Source, stores *store.Stores, clk clockwork.Clock, waterLevelPause time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Ingester {
	return &Ingester{
		source:          source,
		stores:          stores,
		clock:           clk,
		waterLevelPause: waterLevelPause,
		logger:          logger,
		metrics:         metrics,
	}
}

// Stores exposes the stores the ingester writes to.
func (i *Ingester) Stores() *store.Stores { return i.stores }

// Today returns the harbor's current calendar day on the ingester clock.
func (i *Ingester) Today(h domain.Harbor) time.Time {
	return domain.LocalDay(i.clock.Now(), h.Location())
}

func (i *Ingester) log(h domain.Harbor, kind domain.Kind) *slog.Logger {
	return i.logger.With("harbor", h.ID, "domain", string(kind))
}

// merge writes every date of days into the harbor's entry, replacing
// existing values for those dates.
func merge[T any](ctx context.Context, st *store.DomainStore, harborID string, days map[string][]T) error {
	_, err := st.Update(ctx, harborID, func(e domain.Entry) (domain.Entry, error) {
		for date, values := range days {
			if values == nil {
				values = []T{}
			}
			if err := e.Put(date, values); err != nil {
				return nil, err
			}
		}
		return e, nil
	})
	return err
}

// FetchTides fetches days of tide events from start and merges them.
func (i *Ingester) FetchTides(ctx context.Context, h domain.Harbor, start time.Time, days int) bool {
	log := i.log(h, domain.KindTides).With("start", domain.FormatDate(start), "days", days)

	tides, err := i.source.Tides(ctx, h.ID, start, days)
	if err != nil {
		log.Warn("tide fetch failed", "error", err)
		return false
	}
	if err := merge(ctx, i.stores.Tides, h.ID, tides); err != nil {
		log.Error("failed to persist tides", "error", err)
		return false
	}
	log.Info("stored tides", "dates", len(tides))
	return true
}

// FetchCoefficients fetches days of coefficients from start. Whatever was
// parsed is persisted; a response covering fewer than days days reports
// failure.
func (i *Ingester) FetchCoefficients(ctx context.Context, h domain.Harbor, start time.Time, days int) bool {
	log := i.log(h, domain.KindCoefficients).With("start", domain.FormatDate(start), "days", days)

	res, err := i.source.Coefficients(ctx, h.ID, start, days)
	if err != nil {
		log.Warn("coefficient fetch failed", "error", err)
		return false
	}
	if len(res.Days) > 0 {
		if err := merge(ctx, i.stores.Coefficients, h.ID, res.Days); err != nil {
			log.Error("failed to persist coefficients", "error", err)
			return false
		}
	}
	if res.Processed != days {
		log.Warn("coefficient response shorter than requested", "processed", res.Processed, "stored", len(res.Days))
		return false
	}
	log.Info("stored coefficients", "dates", len(res.Days))
	return true
}

// FetchWaterLevel fetches one date of water level samples and stores them.
// It returns the samples and whether the fetch succeeded.
func (i *Ingester) FetchWaterLevel(ctx context.Context, h domain.Harbor, date time.Time) ([]domain.WaterLevelSample, bool) {
	key := domain.FormatDate(date)
	log := i.log(h, domain.KindWaterLevels).With("date", key)

	samples, err := i.source.WaterLevels(ctx, h.ID, date)
	if err != nil {
		log.Warn("water level fetch failed", "error", err)
		return nil, false
	}
	if err := merge(ctx, i.stores.WaterLevels, h.ID, map[string][]domain.WaterLevelSample{key: samples}); err != nil {
		log.Error("failed to persist water levels", "error", err)
		return nil, false
	}
	log.Debug("stored water levels", "samples", len(samples))
	return samples, true
}

// FetchWaterTemp fetches the forecast at the harbor's position and stores
// the samples of today and the following days by date. Days without samples
// keep their cached value.
func (i *Ingester) FetchWaterTemp(ctx context.Context, h domain.Harbor) bool {
	log := i.log(h, domain.KindWaterTemp)
	if !h.HasCoordinates() {
		log.Warn("harbor coordinates unknown, cannot fetch water temperature")
		return false
	}

	samples, err := i.source.WaterTemps(ctx, h.ID, h.LatString(), h.LonString())
	if err != nil {
		log.Warn("water temperature fetch failed", "error", err)
		return false
	}

	window := domain.DateRange(i.Today(h), domain.WaterTempWindowDays)
	byDate := make(map[string][]domain.WaterTempSample, len(window))
	for _, s := range samples {
		byDate[s.DatePart()] = append(byDate[s.DatePart()], s)
	}
	keep := make(map[string][]domain.WaterTempSample, len(window))
	for _, d := range window {
		if len(byDate[d]) > 0 {
			keep[d] = byDate[d]
		}
	}

	if err := merge(ctx, i.stores.WaterTemp, h.ID, keep); err != nil {
		log.Error("failed to persist water temperature", "error", err)
		return false
	}
	log.Info("stored water temperature", "dates", len(keep))
	return true
}
