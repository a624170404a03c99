package coordinator_test

import (
	"context"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/coordinator"
	"github.com/couchcryptid/tide-data-service/internal/domain"
)

func TestService_UnknownHarbor(t *testing.T) {
	f := newFixture(t, brest, nil)
	ctx := context.Background()

	_, err := f.svc.GetTideEvents(ctx, "NOWHERE")
	assert.ErrorIs(t, err, coordinator.ErrUnknownHarbor)
	_, err = f.svc.GetView("NOWHERE")
	assert.ErrorIs(t, err, coordinator.ErrUnknownHarbor)
	_, err = f.svc.Reinitialize(ctx, "NOWHERE")
	assert.ErrorIs(t, err, coordinator.ErrUnknownHarbor)
}

func TestService_GetView(t *testing.T) {
	f := newFixture(t, brest, nil)
	_, err := f.svc.GetView("BREST")
	require.ErrorIs(t, err, coordinator.ErrNoView)

	require.NoError(t, f.coord.Refresh(context.Background()))
	v, err := f.svc.GetView("BREST")
	require.NoError(t, err)
	assert.Equal(t, "BREST", v.Harbor)
	assert.NoError(t, f.svc.CheckReadiness(context.Background()))
}

func TestService_GetTideEvents(t *testing.T) {
	f := newFixture(t, brest, nil)
	ctx := context.Background()

	_, err := f.svc.GetTideEvents(ctx, "BREST")
	require.ErrorIs(t, err, coordinator.ErrInvalidCache, "empty cache")

	seed(t, f.stores.Tides, "BREST", map[string]any{"2024-01-15": f.src.tides["2024-01-15"]})
	tides, err := f.svc.GetTideEvents(ctx, "BREST")
	require.NoError(t, err)
	assert.Len(t, tides["2024-01-15"], 3)

	seed(t, f.stores.Tides, "BREST", map[string]any{"2024-01-16": map[string]string{"oops": "x"}})
	_, err = f.svc.GetTideEvents(ctx, "BREST")
	assert.ErrorIs(t, err, coordinator.ErrInvalidCache, "one date is not a list")
}

func TestService_GetCoefficients(t *testing.T) {
	f := newFixture(t, brest, nil)
	ctx := context.Background()
	seed(t, f.stores.Coefficients, "BREST", map[string]any{
		"2024-01-14": []string{"90"},
		"2024-01-15": []string{"95", "97"},
		"2024-01-16": []string{"102"},
		"2024-01-20": []string{"60"},
	})

	tests := []struct {
		name string
		date string
		days int
		want []string
	}{
		{"everything", "", 0, []string{"2024-01-14", "2024-01-15", "2024-01-16", "2024-01-20"}},
		{"single date", "2024-01-16", 0, []string{"2024-01-16"}},
		{"days from today", "", 2, []string{"2024-01-15", "2024-01-16"}},
		{"days from date", "2024-01-14", 7, []string{"2024-01-14", "2024-01-15", "2024-01-16", "2024-01-20"}},
		{"uncached date", "2024-02-01", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.GetCoefficients(ctx, "BREST", tt.date, tt.days)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, slices.Collect(maps.Keys(got)))
		})
	}

	_, err := f.svc.GetCoefficients(ctx, "BREST", "15/01/2024", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
	_, err = f.svc.GetCoefficients(ctx, "BREST", "", -1)
	assert.ErrorIs(t, err, coordinator.ErrInvalidArgument)
}

func TestService_GetWaterLevels(t *testing.T) {
	f := newFixture(t, brest, nil)
	ctx := context.Background()
	seed(t, f.stores.WaterLevels, "BREST", map[string]any{
		"2024-01-13": []domain.WaterLevelSample{{Time: "00:00:00", Height: "2.00"}},
		"2024-01-16": []domain.WaterLevelSample{{Time: "00:00:00", Height: "3.00"}},
	})

	t.Run("cache hit", func(t *testing.T) {
		samples, err := f.svc.GetWaterLevels(ctx, "BREST", "2024-01-16")
		require.NoError(t, err)
		assert.Equal(t, []domain.WaterLevelSample{{Time: "00:00:00", Height: "3.00"}}, samples)
		assert.Empty(t, f.src.Calls())

		entry, err := f.stores.WaterLevels.Harbor(ctx, "BREST")
		require.NoError(t, err)
		assert.NotContains(t, entry, "2024-01-13", "dates before today are pruned")
	})

	t.Run("miss fetches and stores", func(t *testing.T) {
		samples, err := f.svc.GetWaterLevels(ctx, "BREST", "2024-01-15")
		require.NoError(t, err)
		assert.Len(t, samples, 2)
		assert.Equal(t, []string{"water_levels 2024-01-15"}, f.src.Calls())

		entry, err := f.stores.WaterLevels.Harbor(ctx, "BREST")
		require.NoError(t, err)
		assert.Contains(t, entry, "2024-01-15")
	})

	t.Run("failed fetch", func(t *testing.T) {
		f.src.SetErr(domain.KindWaterLevels, upstream.ErrFetchFailed)
		_, err := f.svc.GetWaterLevels(ctx, "BREST", "2024-01-17")
		assert.ErrorIs(t, err, upstream.ErrFetchFailed)
	})

	t.Run("invalid date", func(t *testing.T) {
		_, err := f.svc.GetWaterLevels(ctx, "BREST", "tomorrow")
		assert.ErrorIs(t, err, domain.ErrInvalidDate)
	})
}

func TestService_GetWaterTemperature(t *testing.T) {
	f := newFixture(t, brest, nil)
	ctx := context.Background()
	seed(t, f.stores.WaterTemp, "BREST", map[string]any{
		"2024-01-15": []domain.WaterTempSample{{DateTime: "2024-01-15T09:00:00", Temp: 11.5}},
	})

	all, err := f.svc.GetWaterTemperature(ctx, "BREST", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	one, err := f.svc.GetWaterTemperature(ctx, "BREST", "2024-01-15")
	require.NoError(t, err)
	assert.Len(t, one["2024-01-15"], 1)

	none, err := f.svc.GetWaterTemperature(ctx, "BREST", "2024-01-18")
	require.NoError(t, err)
	assert.Equal(t, map[string][]domain.WaterTempSample{"2024-01-18": {}}, none)
}

func TestService_Reinitialize(t *testing.T) {
	lat, lon := 48.38, -4.49
	h := brest
	h.Lat, h.Lon = &lat, &lon
	f := newFixture(t, h, nil)
	ctx := context.Background()

	seed(t, f.stores.Tides, "BREST", map[string]any{"2023-12-01": f.src.tides["2024-01-15"]})
	seed(t, f.stores.Coefficients, "BREST", map[string]any{"2023-12-01": []string{"50"}})
	f.src.SetErr(domain.KindCoefficients, upstream.ErrFetchFailed)

	failed, err := f.svc.Reinitialize(ctx, "BREST")
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindCoefficients}, failed)

	tides, err := f.stores.Tides.Harbor(ctx, "BREST")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15"}, tides.Dates(), "old data was cleared")

	coeffs, err := f.stores.Coefficients.Harbor(ctx, "BREST")
	require.NoError(t, err)
	assert.Empty(t, coeffs)

	calls := f.src.Calls()
	assert.Contains(t, calls, "tides 2024-01-14 8")
	assert.Contains(t, calls, "coefficients 2024-01-01 365")
	assert.Contains(t, calls, "water_levels 2024-01-15")
	assert.Contains(t, calls, "water_temp 48.38 -4.49")

	st := f.coord.Status()
	assert.Equal(t, coordinator.StatePublished, st.State, "a refresh ran afterwards")
}

func TestService_Prefetch(t *testing.T) {
	f := newFixture(t, brest, nil)
	f.svc.Prefetch(context.Background(), domain.KindTides)
	assert.Equal(t, []string{"tides 2024-01-14 8"}, f.src.Calls())
}
