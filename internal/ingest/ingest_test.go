package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/observability"
	"github.com/couchcryptid/tide-data-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves canned responses and records every call.
type fakeSource struct {
	mu       sync.Mutex
	calls    []string
	tides    map[string][]domain.TideEvent
	coeffs   upstream.CoefficientDays
	levels   []domain.WaterLevelSample
	temps    []domain.WaterTempSample
	err      error
	levelErr map[string]error
}

func (f *fakeSource) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSource) Tides(_ context.Context, harborID string, start time.Time, days int) (map[string][]domain.TideEvent, error) {
	f.record("tides %s %s %d", harborID, domain.FormatDate(start), days)
	return f.tides, f.err
}

func (f *fakeSource) Coefficients(_ context.Context, harborID string, start time.Time, days int) (upstream.CoefficientDays, error) {
	f.record("coefficients %s %s %d", harborID, domain.FormatDate(start), days)
	return f.coeffs, f.err
}

func (f *fakeSource) WaterLevels(_ context.Context, harborID string, date time.Time) ([]domain.WaterLevelSample, error) {
	key := domain.FormatDate(date)
	f.record("water_levels %s %s", harborID, key)
	if err := f.levelErr[key]; err != nil {
		return nil, err
	}
	return f.levels, f.err
}

func (f *fakeSource) WaterTemps(_ context.Context, harborID, lat, lon string) ([]domain.WaterTempSample, error) {
	f.record("water_temp %s %s %s", harborID, lat, lon)
	return f.temps, f.err
}

// instantClock fires every wait immediately and remembers its duration.
type instantClock struct {
	*clockwork.FakeClock
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *instantClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

var brest = domain.Harbor{ID: "BREST", Timezone: "Europe/Paris"}

func pornichet() domain.Harbor {
	lat, lon := 47.26, -2.35
	return domain.Harbor{ID: "PORNICHET", Timezone: "Europe/Paris", Lat: &lat, Lon: &lon}
}

type fixture struct {
	ing     *Ingester
	src     *fakeSource
	backend *store.MemoryBackend
	stores  *store.Stores
	clock   *instantClock
	metrics *observability.Metrics
}

// newFixture pins now to 2024-01-15 10:00 in Paris.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	clk := &instantClock{FakeClock: clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 10, 0, 0, 0, paris))}
	backend := store.NewMemoryBackend()
	stores := store.NewStores(backend, discardLogger())
	src := &fakeSource{}
	m := observability.NewMetricsForTesting()
	return &fixture{
		ing:     New(src, stores, clk, 2*time.Second, discardLogger(), m),
		src:     src,
		backend: backend,
		stores:  stores,
		clock:   clk,
		metrics: m,
	}
}

func seed(t *testing.T, st *store.DomainStore, harborID string, days map[string]any) {
	t.Helper()
	_, err := st.Update(context.Background(), harborID, func(e domain.Entry) (domain.Entry, error) {
		for date, v := range days {
			if err := e.Put(date, v); err != nil {
				return nil, err
			}
		}
		return e, nil
	})
	require.NoError(t, err)
}

func tideDay(h string) []domain.TideEvent {
	return []domain.TideEvent{{Type: domain.TideHigh, Time: "06:00", Height: h, Coefficient: "80"}}
}

func TestFetchTides_MergesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.stores.Tides, brest.ID, map[string]any{"2024-01-13": tideDay("4.00")})

	f.src.tides = map[string][]domain.TideEvent{"2024-01-14": tideDay("5.10"), "2024-01-15": tideDay("5.20")}
	start, _ := domain.ParseDate("2024-01-14")

	require.True(t, f.ing.FetchTides(ctx, brest, start, 8))
	first, err := f.backend.Read(ctx, "tides_cache")
	require.NoError(t, err)

	require.True(t, f.ing.FetchTides(ctx, brest, start, 8))
	second, err := f.backend.Read(ctx, "tides_cache")
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical upstream data yields identical bytes")

	entry, err := f.stores.Tides.Harbor(ctx, brest.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-13", "2024-01-14", "2024-01-15"}, entry.Dates())
}

func TestFetchTides_FailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.stores.Tides, brest.ID, map[string]any{"2024-01-15": tideDay("4.00")})
	before, err := f.backend.Read(ctx, "tides_cache")
	require.NoError(t, err)

	f.src.err = upstream.ErrFetchFailed
	assert.False(t, f.ing.FetchTides(ctx, brest, f.ing.Today(brest), 8))

	after, err := f.backend.Read(ctx, "tides_cache")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFetchCoefficients_PartialResponsePersistsButFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start, _ := domain.ParseDate("2024-01-01")

	days := make(map[string][]string, 300)
	for _, d := range domain.DateRange(start, 300) {
		days[d] = []string{"70", "72"}
	}
	f.src.coeffs = upstream.CoefficientDays{Days: days, Processed: 300}

	assert.False(t, f.ing.FetchCoefficients(ctx, brest, start, 365))

	entry, err := f.stores.Coefficients.Harbor(ctx, brest.ID)
	require.NoError(t, err)
	assert.Len(t, entry, 300)
}

func TestFetchCoefficients_Complete(t *testing.T) {
	f := newFixture(t)
	start, _ := domain.ParseDate("2024-01-01")
	f.src.coeffs = upstream.CoefficientDays{Days: map[string][]string{"2024-01-01": {"90"}, "2024-01-02": {"95"}}, Processed: 2}
	assert.True(t, f.ing.FetchCoefficients(context.Background(), brest, start, 2))
}

func TestFetchWaterLevel_StoresEmptyDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.levels = nil

	samples, ok := f.ing.FetchWaterLevel(ctx, brest, f.ing.Today(brest))
	require.True(t, ok)
	assert.Empty(t, samples)

	entry, err := f.stores.WaterLevels.Harbor(ctx, brest.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(entry["2024-01-15"]))
}

func TestFetchWaterTemp_BucketsByDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := pornichet()
	f.src.temps = []domain.WaterTempSample{
		{DateTime: "2024-01-14T23:00:00", Temp: 10.9},
		{DateTime: "2024-01-15T09:00:00", Temp: 11.1},
		{DateTime: "2024-01-15T12:00:00", Temp: 11.4},
		{DateTime: "2024-01-21T12:00:00", Temp: 11.0},
		{DateTime: "2024-01-22T12:00:00", Temp: 10.5},
	}

	require.True(t, f.ing.FetchWaterTemp(ctx, h))
	assert.Equal(t, []string{"water_temp PORNICHET 47.26 -2.35"}, f.src.Calls())

	entry, err := f.stores.WaterTemp.Harbor(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "2024-01-21"}, entry.Dates(), "only today through today+6")

	temps, err := domain.DecodeWaterTemps(entry)
	require.NoError(t, err)
	assert.Len(t, temps["2024-01-15"], 2)
}

func TestFetchWaterTemp_RequiresCoordinates(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.ing.FetchWaterTemp(context.Background(), brest))
	assert.Empty(t, f.src.Calls())
}

func TestValidateAndRepair_ValidEntryIsUntouched(t *testing.T) {
	f := newFixture(t)
	seed(t, f.stores.Tides, brest.ID, map[string]any{"2024-01-15": tideDay("4.00")})

	entry, outcome, err := f.ing.ValidateAndRepair(context.Background(), domain.KindTides, brest)
	require.NoError(t, err)
	assert.Equal(t, RepairNone, outcome)
	assert.Len(t, entry, 1)
	assert.Empty(t, f.src.Calls())
}

func TestValidateAndRepair_OneBadDateInvalidatesWholeEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.stores.Tides, brest.ID, map[string]any{
		"2024-01-14": tideDay("4.00"),
		"2024-01-15": "not a list",
	})
	f.src.tides = map[string][]domain.TideEvent{"2024-01-16": tideDay("5.00")}

	entry, outcome, err := f.ing.ValidateAndRepair(ctx, domain.KindTides, brest)
	require.NoError(t, err)
	assert.Equal(t, RepairSucceeded, outcome)
	assert.Equal(t, []string{"tides BREST 2024-01-14 8"}, f.src.Calls())
	assert.Equal(t, []string{"2024-01-16"}, entry.Dates(), "the valid date was discarded with the rest")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheRepairs.WithLabelValues("tides", "repaired")))
}

func TestValidateAndRepair_MalformedHarborValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.backend.Write(ctx, "coefficients_cache",
		[]byte(`{"version":1,"key":"coefficients_cache","data":{"BREST":"oops","PORNICHET":{"2024-01-01":["90"]}}}`)))
	f.src.coeffs = upstream.CoefficientDays{Days: map[string][]string{"2024-01-01": {"88"}}, Processed: 365}

	entry, outcome, err := f.ing.ValidateAndRepair(ctx, domain.KindCoefficients, brest)
	require.NoError(t, err)
	assert.Equal(t, RepairSucceeded, outcome)
	assert.Equal(t, []string{"coefficients BREST 2024-01-01 365"}, f.src.Calls())
	assert.Len(t, entry, 1)

	other, err := f.stores.Coefficients.Harbor(ctx, "PORNICHET")
	require.NoError(t, err)
	assert.Len(t, other, 1, "other harbors are unaffected")
}

func TestValidateAndRepair_FailedRefetchLeavesEntryEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.err = upstream.ErrFetchFailed

	entry, outcome, err := f.ing.ValidateAndRepair(ctx, domain.KindTides, brest)
	require.NoError(t, err)
	assert.Equal(t, RepairFailed, outcome)
	assert.Empty(t, entry)

	ids, err := f.stores.Tides.Harbors(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheRepairs.WithLabelValues("tides", "failed")))
}

func TestValidateAndRepair_EmptyWaterLevelsAreValid(t *testing.T) {
	f := newFixture(t)
	_, outcome, err := f.ing.ValidateAndRepair(context.Background(), domain.KindWaterLevels, brest)
	require.NoError(t, err)
	assert.Equal(t, RepairNone, outcome)
	assert.Empty(t, f.src.Calls())
}

func TestPrefetchTides_PrunesWithoutFetchingCompleteWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	days := map[string]any{"2024-01-12": tideDay("3.00"), "junk": tideDay("3.00")}
	for _, d := range domain.DateRange(f.ing.Today(brest).AddDate(0, 0, -1), 8) {
		days[d] = tideDay("4.00")
	}
	seed(t, f.stores.Tides, brest.ID, days)

	assert.True(t, f.ing.Prefetch(ctx, domain.KindTides, brest))
	assert.Empty(t, f.src.Calls())

	entry, err := f.stores.Tides.Harbor(ctx, brest.ID)
	require.NoError(t, err)
	assert.NotContains(t, entry, "2024-01-12")
	assert.NotContains(t, entry, "junk")
	assert.Contains(t, entry, "2024-01-15")
	assert.Contains(t, entry, "2024-01-14")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PrunedEntries.WithLabelValues("tides")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PrefetchRuns.WithLabelValues("tides", "complete")))
}

func TestPrefetchTides_FetchesWholeWindowWhenOneDayMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.stores.Tides, brest.ID, map[string]any{"2024-01-14": tideDay("4.00")})
	f.src.tides = map[string][]domain.TideEvent{"2024-01-15": tideDay("5.00")}

	assert.True(t, f.ing.Prefetch(ctx, domain.KindTides, brest))
	assert.Equal(t, []string{"tides BREST 2024-01-14 8"}, f.src.Calls())
}

func TestPrefetchCoefficients_FetchesFromFirstGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start, _ := domain.ParseDate("2024-01-01")

	days := map[string]any{}
	for _, d := range domain.DateRange(start, 10) {
		days[d] = []string{"80"}
	}
	days["2024-03-01"] = []string{"90"} // a hole between 01-11 and 03-01
	seed(t, f.stores.Coefficients, brest.ID, days)
	f.src.coeffs = upstream.CoefficientDays{Days: map[string][]string{"2024-01-11": {"85"}}, Processed: 355}

	assert.True(t, f.ing.Prefetch(ctx, domain.KindCoefficients, brest))
	assert.Equal(t, []string{"coefficients BREST 2024-01-11 355"}, f.src.Calls())
}

func TestPrefetchCoefficients_PrunesPreviousMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.stores.Coefficients, brest.ID, map[string]any{"2023-12-31": []string{"80"}, "2024-01-01": []string{"81"}})
	f.src.err = upstream.ErrFetchFailed

	assert.False(t, f.ing.Prefetch(ctx, domain.KindCoefficients, brest))

	entry, err := f.stores.Coefficients.Harbor(ctx, brest.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01"}, entry.Dates(), "pruning runs even when the fetch fails")
}

func TestPrefetchWaterLevels_FetchesMissingDatesWithPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	days := map[string]any{}
	for _, d := range domain.DateRange(f.ing.Today(brest), 5) {
		days[d] = []domain.WaterLevelSample{{Time: "00:00:00", Height: "3.00"}}
	}
	seed(t, f.stores.WaterLevels, brest.ID, days)
	f.src.levels = []domain.WaterLevelSample{{Time: "00:00:00", Height: "3.10"}}
	f.src.levelErr = map[string]error{"2024-01-21": errors.New("boom")}

	assert.False(t, f.ing.Prefetch(ctx, domain.KindWaterLevels, brest), "one date failed")
	assert.Equal(t, []string{
		"water_levels BREST 2024-01-20",
		"water_levels BREST 2024-01-21",
		"water_levels BREST 2024-01-22",
	}, f.src.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.clock.Waits())

	entry, err := f.stores.WaterLevels.Harbor(ctx, brest.ID)
	require.NoError(t, err)
	assert.Len(t, entry, 7)
}

func TestPrefetchWaterTemp(t *testing.T) {
	t.Run("skipped without coordinates", func(t *testing.T) {
		f := newFixture(t)
		assert.True(t, f.ing.Prefetch(context.Background(), domain.KindWaterTemp, brest))
		assert.Empty(t, f.src.Calls())
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PrefetchRuns.WithLabelValues("water_temp", "skipped")))
	})

	t.Run("prunes before today and refetches", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		h := pornichet()
		seed(t, f.stores.WaterTemp, h.ID, map[string]any{
			"2024-01-14": []domain.WaterTempSample{{DateTime: "2024-01-14T12:00:00", Temp: 10}},
		})
		f.src.temps = []domain.WaterTempSample{{DateTime: "2024-01-15T12:00:00", Temp: 11}}

		assert.True(t, f.ing.Prefetch(ctx, domain.KindWaterTemp, h))
		entry, err := f.stores.WaterTemp.Harbor(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-01-15"}, entry.Dates())
	})
}
