package forecast

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   int
	samples []models.ForecastSample
	failLat map[float64]bool
}

func (f *fakeSource) FetchForecast(ctx context.Context, lat, lon float64, days int) ([]models.ForecastSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failLat[lat] {
		return nil, errors.New("provider down")
	}
	return f.samples, nil
}

var base = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func samplesEvery3h(n int, w models.Observation) []models.ForecastSample {
	out := make([]models.ForecastSample, n)
	for i := range out {
		out[i] = models.ForecastSample{Time: base.Add(time.Duration(i) * 3 * time.Hour), Observation: w}
	}
	return out
}

func windPlant(name string, lat, capacity float64) models.Plant {
	return models.Plant{Name: name, Latitude: lat, Longitude: -100, Source: models.SourceWind, CapacityMW: capacity}
}

func TestForecastPlant_Wind(t *testing.T) {
	src := &fakeSource{samples: samplesEvery3h(16, models.Observation{Temperature: 10, WindSpeed: 12})}
	e := NewEngine(src, Config{}, zap.NewNop())

	f, err := e.ForecastPlant(context.Background(), windPlant("Ridge", 40, 50), 2)
	if err != nil {
		t.Fatalf("ForecastPlant() error = %v", err)
	}
	if f.ForecastPeriod != "2 days" {
		t.Errorf("ForecastPeriod = %q", f.ForecastPeriod)
	}
	if len(f.Predictions) != 16 {
		t.Fatalf("len(Predictions) = %d, want 16", len(f.Predictions))
	}
	for _, p := range f.Predictions {
		if p.PredictedOutputMW != 50 || p.EfficiencyFactor != 1 {
			t.Fatalf("prediction = %+v, want 50 MW at efficiency 1", p)
		}
	}
	if len(f.DailySummaries) != 2 {
		t.Fatalf("len(DailySummaries) = %d, want 2", len(f.DailySummaries))
	}
	if f.DailySummaries[0].TotalOutputMWh != 400 {
		t.Errorf("TotalOutputMWh = %v, want 400", f.DailySummaries[0].TotalOutputMWh)
	}
	if len(f.FluctuationAlerts) != 0 {
		t.Errorf("constant output raised %d alerts", len(f.FluctuationAlerts))
	}
}

func TestForecastPlant_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		plant   models.Plant
		wantErr error
	}{
		{"zero capacity", windPlant("A", 40, 0), ErrMissingPlantData},
		{"missing coordinates", windPlant("B", math.NaN(), 10), ErrMissingPlantData},
		{"unsupported source", models.Plant{Name: "C", Latitude: 40, Longitude: -100, Source: models.SourceOther, CapacityMW: 10}, ErrUnsupportedSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{samples: samplesEvery3h(8, models.NeutralObservation())}
			e := NewEngine(src, Config{}, nil)
			_, err := e.ForecastPlant(context.Background(), tt.plant, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if src.calls != 0 {
				t.Errorf("provider called %d times", src.calls)
			}
		})
	}
}

func TestForecastPlant_ProviderFailure(t *testing.T) {
	src := &fakeSource{failLat: map[float64]bool{40: true}}
	e := NewEngine(src, Config{}, nil)
	_, err := e.ForecastPlant(context.Background(), windPlant("A", 40, 10), 1)
	if !errors.Is(err, ErrForecastUnavailable) {
		t.Fatalf("error = %v, want ErrForecastUnavailable", err)
	}
}

func TestForecastRegion_ExcludesFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	src := &fakeSource{
		samples: samplesEvery3h(8, models.Observation{WindSpeed: 12}),
		failLat: map[float64]bool{41: true},
	}
	e := NewEngine(src, Config{Workers: 2}, zap.New(core))

	plants := []models.Plant{windPlant("P1", 40, 10), windPlant("P2", 41, 30), windPlant("P3", 42, 20)}
	r, err := e.ForecastRegion(context.Background(), "Kern", plants, 1)
	if err != nil {
		t.Fatalf("ForecastRegion() error = %v", err)
	}
	if r.PlantCount != 2 || r.TotalCapacityMW != 30 {
		t.Errorf("PlantCount = %d, TotalCapacityMW = %v, want 2 and 30", r.PlantCount, r.TotalCapacityMW)
	}
	if len(r.ExcludedPlants) != 1 || r.ExcludedPlants[0] != "P2" {
		t.Errorf("ExcludedPlants = %v", r.ExcludedPlants)
	}
	if r.IndividualPlants[0].PlantName != "P1" || r.IndividualPlants[1].PlantName != "P3" {
		t.Errorf("individual order = %s, %s", r.IndividualPlants[0].PlantName, r.IndividualPlants[1].PlantName)
	}
	if got := r.Summary.Points[0]; got.TotalOutputMW != 30 || got.CapacityUtilization != 100 || got.PlantCount != 2 {
		t.Errorf("first regional point = %+v", got)
	}
	if logs.FilterMessage("plant excluded from regional forecast").Len() != 1 {
		t.Errorf("expected one exclusion warning, got %d", logs.Len())
	}
}

func TestForecastRegion_AllFail(t *testing.T) {
	src := &fakeSource{failLat: map[float64]bool{40: true, 41: true}}
	e := NewEngine(src, Config{}, nil)
	_, err := e.ForecastRegion(context.Background(), "Kern", []models.Plant{windPlant("P1", 40, 10), windPlant("P2", 41, 10)}, 1)
	if !errors.Is(err, ErrNoSuccessfulForecasts) {
		t.Fatalf("error = %v, want ErrNoSuccessfulForecasts", err)
	}
	if err.Error() != "no successful forecasts generated" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestForecastRegion_CountsRegionScopeOnly(t *testing.T) {
	src := &fakeSource{samples: samplesEvery3h(8, models.Observation{WindSpeed: 10})}
	e := NewEngine(src, Config{}, nil)
	plantOK := observability.ForecastRequestsTotal.WithLabelValues("plant", "success")
	regionOK := observability.ForecastRequestsTotal.WithLabelValues("region", "success")
	plantBefore, regionBefore := testutil.ToFloat64(plantOK), testutil.ToFloat64(regionOK)

	plants := []models.Plant{windPlant("P1", 40, 10), windPlant("P2", 41, 20)}
	if _, err := e.ForecastRegion(context.Background(), "Kern", plants, 1); err != nil {
		t.Fatalf("ForecastRegion() error = %v", err)
	}
	if got := testutil.ToFloat64(plantOK) - plantBefore; got != 0 {
		t.Errorf("plant-scope requests increased by %v during a regional forecast", got)
	}
	if got := testutil.ToFloat64(regionOK) - regionBefore; got != 1 {
		t.Errorf("region-scope requests increased by %v, want 1", got)
	}

	if _, err := e.ForecastPlant(context.Background(), windPlant("P3", 42, 10), 1); err != nil {
		t.Fatalf("ForecastPlant() error = %v", err)
	}
	if got := testutil.ToFloat64(plantOK) - plantBefore; got != 1 {
		t.Errorf("plant-scope requests increased by %v after a direct forecast, want 1", got)
	}
}
