package coordinator_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/coordinator"
	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/ingest"
	"github.com/couchcryptid/tide-data-service/internal/observability"
	"github.com/couchcryptid/tide-data-service/internal/store"
)

// --- mocks ---

type mockSource struct {
	mu     sync.Mutex
	calls  []string
	errs   map[domain.Kind]error
	tides  map[string][]domain.TideEvent
	coeffs map[string][]string
	levels map[string][]domain.WaterLevelSample
	temps  []domain.WaterTempSample
}

func (m *mockSource) record(kind domain.Kind, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s %s", kind, detail))
	return m.errs[kind]
}

func (m *mockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockSource) SetErr(kind domain.Kind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[kind] = err
}

func (m *mockSource) Tides(_ context.Context, _ string, start time.Time, days int) (map[string][]domain.TideEvent, error) {
	if err := m.record(domain.KindTides, fmt.Sprintf("%s %d", domain.FormatDate(start), days)); err != nil {
		return nil, err
	}
	return m.tides, nil
}

func (m *mockSource) Coefficients(_ context.Context, _ string, start time.Time, days int) (upstream.CoefficientDays, error) {
	if err := m.record(domain.KindCoefficients, fmt.Sprintf("%s %d", domain.FormatDate(start), days)); err != nil {
		return upstream.CoefficientDays{}, err
	}
	return upstream.CoefficientDays{Days: m.coeffs, Processed: days}, nil
}

func (m *mockSource) WaterLevels(_ context.Context, _ string, date time.Time) ([]domain.WaterLevelSample, error) {
	key := domain.FormatDate(date)
	if err := m.record(domain.KindWaterLevels, key); err != nil {
		return nil, err
	}
	return m.levels[key], nil
}

func (m *mockSource) WaterTemps(_ context.Context, _, lat, lon string) ([]domain.WaterTempSample, error) {
	if err := m.record(domain.KindWaterTemp, lat+" "+lon); err != nil {
		return nil, err
	}
	return m.temps, nil
}

type mockSink struct {
	mu     sync.Mutex
	events []domain.CycleEvent
}

func (m *mockSink) Publish(_ context.Context, e domain.CycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockSink) Events() []domain.CycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CycleEvent(nil), m.events...)
}

type mockDirectory struct {
	harbors map[string]upstream.HarborInfo
	err     error
}

func (m *mockDirectory) Harbors(context.Context) (map[string]upstream.HarborInfo, error) {
	return m.harbors, m.err
}

// --- fixture ---

type fixture struct {
	src     *mockSource
	sink    *mockSink
	stores  *store.Stores
	ing     *ingest.Ingester
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
	coord   *coordinator.Coordinator
	svc     *coordinator.Service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

// newFixture pins now to 2024-01-15 10:00 in Paris, between a low tide at
// 04:00 and a high tide at 10:30.
func newFixture(t *testing.T, h domain.Harbor, dir upstream.HarborDirectory) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 10, 0, 0, 0, paris(t)))
	src := &mockSource{
		errs: map[domain.Kind]error{},
		tides: map[string][]domain.TideEvent{
			"2024-01-15": {
				{Type: domain.TideLow, Time: "04:00", Height: "1.20", Coefficient: "---"},
				{Type: domain.TideHigh, Time: "10:30", Height: "5.80", Coefficient: "---"},
				{Type: domain.TideLow, Time: "16:45", Height: "1.35", Coefficient: "---"},
			},
		},
		coeffs: map[string][]string{
			"2024-01-15": {"95", "97"},
			"2024-01-16": {"102"},
			"2024-01-17": {"35"},
		},
		levels: map[string][]domain.WaterLevelSample{
			"2024-01-15": {{Time: "09:30:00", Height: "4.90"}, {Time: "10:05:00", Height: "5.40"}},
		},
		temps: []domain.WaterTempSample{{DateTime: "2024-01-15T09:00:00", Temp: 11.5}},
	}
	stores := store.NewStores(store.NewMemoryBackend(), discardLogger())
	metrics := observability.NewMetricsForTesting()
	ing := ingest.New(src, stores, clk, 0, discardLogger(), metrics)
	sink := &mockSink{}

	coord := coordinator.New(h, ing, coordinator.Options{
		Interval:  5 * time.Minute,
		Clock:     clk,
		Directory: dir,
		Events:    sink,
		Logger:    discardLogger(),
		Metrics:   metrics,
	})
	return &fixture{
		src:     src,
		sink:    sink,
		stores:  stores,
		ing:     ing,
		clock:   clk,
		metrics: metrics,
		coord:   coord,
		svc:     coordinator.NewService(ing, []*coordinator.Coordinator{coord}, discardLogger()),
	}
}

var brest = domain.Harbor{ID: "BREST", Timezone: "Europe/Paris"}

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
