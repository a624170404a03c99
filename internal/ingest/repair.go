package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// RepairOutcome reports what validation did to a harbor entry.
type RepairOutcome int

const (
	RepairNone RepairOutcome = iota
	RepairSucceeded
	RepairFailed
)

func (o RepairOutcome) String() string {
	switch o {
	case RepairSucceeded:
		return "repaired"
	case RepairFailed:
		return "failed"
	default:
		return "none"
	}
}

// ValidateAndRepair checks the harbor's entry for kind. When any date fails
// its shape check, or the stored value is not an entry at all, the whole
// entry is deleted and refetched over the series' default range. On a failed
// refetch the returned entry is empty. The error is non-nil only when the
// store itself cannot be read or written.
func (i *Ingester) ValidateAndRepair(ctx context.Context, kind domain.Kind, h domain.Harbor) (domain.Entry, RepairOutcome, error) {
	st := i.stores.For(kind)
	if st == nil {
		return nil, RepairNone, fmt.Errorf("no store for %q", kind)
	}
	log := i.log(h, kind)

	entry, err := st.Harbor(ctx, h.ID)
	switch {
	case errors.Is(err, domain.ErrMalformedEntry):
		log.Warn("stored entry is malformed, repairing", "error", err)
	case err != nil:
		return nil, RepairNone, err
	default:
		shapeErr := domain.CheckShape(kind, entry)
		if shapeErr == nil {
			return entry, RepairNone, nil
		}
		log.Warn("cache entry failed validation, repairing", "error", shapeErr)
	}

	if err := st.Delete(ctx, h.ID); err != nil {
		return nil, RepairNone, fmt.Errorf("discard %s/%s: %w", kind, h.ID, err)
	}

	if !i.refetchDefault(ctx, kind, h) {
		i.metrics.CacheRepairs.WithLabelValues(string(kind), "failed").Inc()
		log.Error("repair fetch failed, no data for this cycle")
		return domain.Entry{}, RepairFailed, nil
	}

	entry, err = st.Harbor(ctx, h.ID)
	if err != nil {
		return nil, RepairFailed, err
	}
	i.metrics.CacheRepairs.WithLabelValues(string(kind), "repaired").Inc()
	log.Info("cache entry repaired", "dates", len(entry))
	return entry, RepairSucceeded, nil
}

// refetchDefault fills an emptied entry over the series' default range.
func (i *Ingester) refetchDefault(ctx context.Context, kind domain.Kind, h domain.Harbor) bool {
	today := i.Today(h)
	switch kind {
	case domain.KindTides:
		return i.FetchTides(ctx, h, domain.AddDays(today, -1), domain.TideWindowDays)
	case domain.KindCoefficients:
		return i.FetchCoefficients(ctx, h, domain.FirstOfMonth(today), domain.CoefficientWindowDays)
	case domain.KindWaterLevels:
		_, ok := i.FetchWaterLevel(ctx, h, today)
		return ok
	case domain.KindWaterTemp:
		return i.FetchWaterTemp(ctx, h)
	}
	return false
}
