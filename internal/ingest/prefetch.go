package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

var errNoChange = errors.New("no change")

// Prune removes the harbor's dates that fall before the series' retention
// boundary, along with keys that are not dates. It returns the removed count.
func (i *Ingester) Prune(ctx context.Context, kind domain.Kind, h domain.Harbor) (int, error) {
	st := i.stores.For(kind)
	if st == nil {
		return 0, fmt.Errorf("no store for %q", kind)
	}
	boundary := domain.RetentionBoundary(kind, i.Today(h))

	var removed []string
	_, err := st.Update(ctx, h.ID, func(e domain.Entry) (domain.Entry, error) {
		var pruned domain.Entry
		pruned, removed = domain.PruneBefore(e, boundary)
		if len(removed) == 0 {
			return nil, errNoChange
		}
		return pruned, nil
	})
	if errors.Is(err, errNoChange) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	i.metrics.PrunedEntries.WithLabelValues(string(kind)).Add(float64(len(removed)))
	i.log(h, kind).Info("pruned cached dates", "boundary", domain.FormatDate(boundary), "removed", removed)
	return len(removed), nil
}

// Prefetch keeps one series' window populated for a harbor and prunes
// expired dates. It reports whether the window is complete afterwards as far
// as the fetches could tell.
func (i *Ingester) Prefetch(ctx context.Context, kind domain.Kind, h domain.Harbor) bool {
	var result string
	switch kind {
	case domain.KindTides:
		result = i.prefetchTides(ctx, h)
	case domain.KindCoefficients:
		result = i.prefetchCoefficients(ctx, h)
	case domain.KindWaterLevels:
		result = i.prefetchWaterLevels(ctx, h)
	case domain.KindWaterTemp:
		result = i.prefetchWaterTemp(ctx, h)
	default:
		return false
	}

	if _, err := i.Prune(ctx, kind, h); err != nil {
		i.log(h, kind).Error("prune failed", "error", err)
	}
	i.metrics.PrefetchRuns.WithLabelValues(string(kind), result).Inc()
	return result != prefetchFailed
}

// PrefetchAll runs Prefetch for every harbor in turn.
func (i *Ingester) PrefetchAll(ctx context.Context, kind domain.Kind, harbors []domain.Harbor) {
	for _, h := range harbors {
		if ctx.Err() != nil {
			return
		}
		i.Prefetch(ctx, kind, h)
	}
}

const (
	prefetchComplete = "complete"
	prefetchFetched  = "fetched"
	prefetchFailed   = "failed"
	prefetchSkipped  = "skipped"
)

// cached reads the harbor's entry for a window check. A malformed entry
// counts as empty so the window is refetched.
func (i *Ingester) cached(ctx context.Context, kind domain.Kind, h domain.Harbor) domain.Entry {
	entry, err := i.stores.For(kind).Harbor(ctx, h.ID)
	if err != nil {
		i.log(h, kind).Warn("cannot read cache for prefetch", "error", err)
		return domain.Entry{}
	}
	return entry
}

// prefetchTides refetches the whole window when any day is missing, since
// the endpoint serves ranges.
func (i *Ingester) prefetchTides(ctx context.Context, h domain.Harbor) string {
	start := domain.AddDays(i.Today(h), -1)
	window := domain.DateRange(start, domain.TideWindowDays)

	missing := domain.MissingDates(i.cached(ctx, domain.KindTides, h), window)
	if len(missing) == 0 {
		i.log(h, domain.KindTides).Info("tide cache is up to date")
		return prefetchComplete
	}
	i.log(h, domain.KindTides).Info("prefetching tides", "missing", missing)
	if !i.FetchTides(ctx, h, start, domain.TideWindowDays) {
		return prefetchFailed
	}
	return prefetchFetched
}

// prefetchCoefficients fetches from the first missing date through the end
// of the window. Holes after that gap are reported, not filled.
func (i *Ingester) prefetchCoefficients(ctx context.Context, h domain.Harbor) string {
	log := i.log(h, domain.KindCoefficients)
	start := domain.FirstOfMonth(i.Today(h))
	window := domain.DateRange(start, domain.CoefficientWindowDays)

	idx, cachedAfterGap := domain.FirstGap(i.cached(ctx, domain.KindCoefficients, h), window)
	if idx < 0 {
		log.Info("coefficient cache is up to date")
		return prefetchComplete
	}
	if cachedAfterGap {
		log.Warn("coefficient cache has cached dates after a gap; only the range from the first gap is refetched",
			"first_gap", window[idx])
	}

	gapStart := domain.AddDays(start, idx)
	days := domain.CoefficientWindowDays - idx
	log.Info("prefetching coefficients", "from", window[idx], "days", days)
	if !i.FetchCoefficients(ctx, h, gapStart, days) {
		return prefetchFailed
	}
	return prefetchFetched
}

// prefetchWaterLevels fetches each missing date on its own, pausing between
// requests.
func (i *Ingester) prefetchWaterLevels(ctx context.Context, h domain.Harbor) string {
	log := i.log(h, domain.KindWaterLevels)
	today := i.Today(h)
	window := domain.DateRange(today, domain.WaterLevelWindowDays)

	missing := domain.MissingDates(i.cached(ctx, domain.KindWaterLevels, h), window)
	if len(missing) == 0 {
		log.Info("water level cache is up to date")
		return prefetchComplete
	}
	log.Info("prefetching water levels", "missing", missing)

	result := prefetchFetched
	for n, key := range missing {
		if n > 0 {
			if err := i.pause(ctx); err != nil {
				return prefetchFailed
			}
		}
		date, err := domain.ParseDate(key)
		if err != nil {
			continue
		}
		if _, ok := i.FetchWaterLevel(ctx, h, date); !ok {
			result = prefetchFailed
		}
	}
	return result
}

// prefetchWaterTemp refreshes the forecast when any day of the window is
// missing. One request covers the whole window.
func (i *Ingester) prefetchWaterTemp(ctx context.Context, h domain.Harbor) string {
	log := i.log(h, domain.KindWaterTemp)
	if !h.HasCoordinates() {
		log.Warn("harbor coordinates unknown, skipping water temperature prefetch")
		return prefetchSkipped
	}
	window := domain.DateRange(i.Today(h), domain.WaterTempWindowDays)

	missing := domain.MissingDates(i.cached(ctx, domain.KindWaterTemp, h), window)
	if len(missing) == 0 {
		log.Info("water temperature cache is up to date")
		return prefetchComplete
	}
	log.Info("prefetching water temperature", "missing", missing)
	if !i.FetchWaterTemp(ctx, h) {
		return prefetchFailed
	}
	return prefetchFetched
}

func (i *Ingester) pause(ctx context.Context) error {
	if i.waterLevelPause <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-i.clock.After(i.waterLevelPause):
		return nil
	}
}
