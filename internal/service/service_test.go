package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kjstillabower/plant-output-forecaster/internal/dataset"
	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/validation"
)

const plantsCSV = `PlantName,PriEnergySource,Capacity_Latest,x,y,county
A,SUN,10,-119,37,Kern
B,WND,20,-118,35,Inyo
C,WAT,5,-118,36,kern
D,SUN,7,-117,34,Kern
`

type fakeProcessor struct {
	mu     sync.Mutex
	csv    string
	err    error
	forced []bool
}

func (f *fakeProcessor) Process(ctx context.Context, paths dataset.Paths, force bool) (*dataset.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	if f.err != nil {
		return nil, f.err
	}
	return dataset.Parse(strings.NewReader(f.csv))
}

type fakeForecaster struct {
	plant  models.Plant
	days   int
	plants []models.Plant
	region string
}

func (f *fakeForecaster) ForecastPlant(ctx context.Context, p models.Plant, days int) (models.PlantForecast, error) {
	f.plant, f.days = p, days
	return models.PlantForecast{PlantID: p.ID, PlantName: p.Name}, nil
}

func (f *fakeForecaster) ForecastRegion(ctx context.Context, region string, plants []models.Plant, days int) (models.RegionalForecast, error) {
	f.region, f.plants, f.days = region, plants, days
	return models.RegionalForecast{RegionName: region, PlantCount: len(plants)}, nil
}

func newLoaded(t *testing.T, csv string) (*PlantService, *fakeProcessor, *fakeForecaster) {
	t.Helper()
	p := &fakeProcessor{csv: csv}
	f := &fakeForecaster{}
	s := NewPlantService(p, f, Config{}, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s, p, f
}

func TestPlantService_NotLoaded(t *testing.T) {
	s := NewPlantService(&fakeProcessor{}, &fakeForecaster{}, Config{}, nil)
	if _, err := s.Plants(); !errors.Is(err, ErrDatasetNotLoaded) {
		t.Errorf("Plants() error = %v", err)
	}
	if _, err := s.ForecastPlant(context.Background(), 0, 1); !errors.Is(err, ErrDatasetNotLoaded) {
		t.Errorf("ForecastPlant() error = %v", err)
	}
}

func TestPlantService_Lookups(t *testing.T) {
	s, p, _ := newLoaded(t, plantsCSV)
	if len(p.forced) != 1 || p.forced[0] {
		t.Errorf("Load forced = %v, want [false]", p.forced)
	}

	plants, err := s.Plants()
	if err != nil || len(plants) != 4 {
		t.Fatalf("Plants() = %d, %v", len(plants), err)
	}
	if got, err := s.Plant(1); err != nil || got.Name != "B" {
		t.Errorf("Plant(1) = %+v, %v", got, err)
	}
	for _, id := range []int{-1, 4} {
		if _, err := s.Plant(id); !errors.Is(err, ErrPlantNotFound) {
			t.Errorf("Plant(%d) error = %v", id, err)
		}
	}
	regions, err := s.Regions()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(regions, "|") != "Inyo|Kern|kern" {
		t.Errorf("Regions() = %v", regions)
	}
}

func TestPlantService_ForecastPlantDays(t *testing.T) {
	s, _, f := newLoaded(t, plantsCSV)
	tests := []struct {
		in, want int
	}{
		{0, 3},
		{2, 2},
		{9, 5},
	}
	for _, tt := range tests {
		if _, err := s.ForecastPlant(context.Background(), 2, tt.in); err != nil {
			t.Fatalf("ForecastPlant(days=%d) error = %v", tt.in, err)
		}
		if f.days != tt.want || f.plant.Name != "C" {
			t.Errorf("days %d -> %d (plant %s), want %d", tt.in, f.days, f.plant.Name, tt.want)
		}
	}
	if _, err := s.ForecastPlant(context.Background(), 0, -1); !errors.Is(err, validation.ErrDaysOutOfRange) {
		t.Errorf("negative days error = %v", err)
	}
}

func TestPlantService_ForecastRegion(t *testing.T) {
	s, _, f := newLoaded(t, plantsCSV)
	ctx := context.Background()

	r, err := s.ForecastRegion(ctx, " Kern ", 0, 2)
	if err != nil {
		t.Fatalf("ForecastRegion() error = %v", err)
	}
	if r.PlantCount != 2 || f.plants[0].Name != "A" || f.plants[1].Name != "C" {
		t.Errorf("plants = %+v", f.plants)
	}
	if f.region != "Kern" {
		t.Errorf("region = %q", f.region)
	}

	if _, err := s.ForecastRegion(ctx, "Nowhere", 1, 0); !errors.Is(err, ErrRegionNotFound) {
		t.Errorf("unknown region error = %v", err)
	}
	if _, err := s.ForecastRegion(ctx, "", 1, 0); !errors.Is(err, validation.ErrRegionEmpty) {
		t.Errorf("empty region error = %v", err)
	}
}

func TestPlantService_NoCountyColumn(t *testing.T) {
	s, _, _ := newLoaded(t, "PlantName,PriEnergySource,Capacity_Latest,x,y\nA,SUN,1,2,3\n")
	if _, err := s.Regions(); !errors.Is(err, ErrRegionUnavailable) {
		t.Errorf("Regions() error = %v", err)
	}
	if _, err := s.ForecastRegion(context.Background(), "Kern", 1, 0); !errors.Is(err, ErrRegionUnavailable) {
		t.Errorf("ForecastRegion() error = %v", err)
	}
}

func TestPlantService_RefreshKeepsDatasetOnFailure(t *testing.T) {
	s, p, _ := newLoaded(t, plantsCSV)
	p.err = errors.New("boom")
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil")
	}
	if p.forced[len(p.forced)-1] != true {
		t.Error("Refresh did not force")
	}
	if plants, err := s.Plants(); err != nil || len(plants) != 4 {
		t.Errorf("dataset lost after failed refresh: %d, %v", len(plants), err)
	}

	p.err = nil
	p.csv = "PlantName,PriEnergySource,Capacity_Latest,x,y,county\nZ,WND,1,2,3,Elsewhere\n"
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if plants, _ := s.Plants(); len(plants) != 1 || plants[0].Name != "Z" {
		t.Errorf("dataset not replaced: %+v", plants)
	}
}
