// Package service owns the current plant dataset and fronts the forecast
// engine with plant and region lookups.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/plant-output-forecaster/internal/dataset"
	"github.com/kjstillabower/plant-output-forecaster/internal/lifecycle"
	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/validation"
)

var (
	// ErrDatasetNotLoaded is returned before the first dataset load completes.
	ErrDatasetNotLoaded = errors.New("plant dataset not loaded")
	// ErrPlantNotFound is returned when no plant matches the requested ID.
	ErrPlantNotFound = errors.New("plant not found")
	// ErrRegionNotFound is returned when a region name matches no plants.
	ErrRegionNotFound = errors.New("no plants found in region")
	// ErrRegionUnavailable is returned when the dataset carries no county field.
	ErrRegionUnavailable = errors.New("county data not available")
)

// Forecast request defaults.
const (
	DefaultForecastDays = 3
	DefaultMaxPlants    = 20
	MaxRegionNameLength = 100
)

// Processor builds the augmented dataset.
type Processor interface {
	Process(ctx context.Context, paths dataset.Paths, forceRefresh bool) (*dataset.Dataset, error)
}

// Forecaster produces plant and regional forecasts.
type Forecaster interface {
	ForecastPlant(ctx context.Context, p models.Plant, days int) (models.PlantForecast, error)
	ForecastRegion(ctx context.Context, region string, plants []models.Plant, days int) (models.RegionalForecast, error)
}

// Config tunes a PlantService.
type Config struct {
	Paths            dataset.Paths
	MaxForecastDays  int
	DefaultMaxPlants int
}

// PlantService holds the current augmented dataset. Refresh replaces it
// wholesale; readers always see one complete dataset.
type PlantService struct {
	processor  Processor
	forecaster Forecaster
	cfg        Config
	logger     *zap.Logger

	refreshMu sync.Mutex
	mu        sync.RWMutex
	data      *dataset.Dataset
	loadedAt  time.Time
}

// NewPlantService returns a PlantService with no dataset loaded; call Load.
func NewPlantService(p Processor, f Forecaster, cfg Config, logger *zap.Logger) *PlantService {
	if cfg.MaxForecastDays <= 0 {
		cfg.MaxForecastDays = 5
	}
	if cfg.DefaultMaxPlants <= 0 {
		cfg.DefaultMaxPlants = DefaultMaxPlants
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlantService{processor: p, forecaster: f, cfg: cfg, logger: logger}
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return fallback
}

// Load builds the dataset, reusing persisted artefacts when present.
func (s *PlantService) Load(ctx context.Context) error {
	return s.process(ctx, false)
}

// Refresh rebuilds the dataset with fresh weather. On failure the current
// dataset is kept.
func (s *PlantService) Refresh(ctx context.Context) error {
	return s.process(ctx, true)
}

func (s *PlantService) process(ctx context.Context, force bool) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	logger := loggerFromContext(ctx, s.logger)
	logger.Info("dataset refresh started", zap.Bool("forceRefresh", force))
	start := time.Now()

	d, err := s.processor.Process(ctx, s.cfg.Paths, force)
	if err != nil {
		logger.Error("dataset refresh failed", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.data = d
	s.loadedAt = time.Now()
	s.mu.Unlock()
	lifecycle.SetDatasetReady(true)

	logger.Info("dataset refresh complete",
		zap.Int("plants", len(d.Plants)),
		zap.Bool("augmented", d.Augmented),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *PlantService) current() (*dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrDatasetNotLoaded
	}
	return s.data, nil
}

// Plants returns every plant in dataset order.
func (s *PlantService) Plants() ([]models.Plant, error) {
	d, err := s.current()
	if err != nil {
		return nil, err
	}
	return append([]models.Plant(nil), d.Plants...), nil
}

// LoadedAt reports when the current dataset was installed.
func (s *PlantService) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Plant returns the plant with the given row id.
func (s *PlantService) Plant(id int) (models.Plant, error) {
	d, err := s.current()
	if err != nil {
		return models.Plant{}, err
	}
	if id < 0 || id >= len(d.Plants) {
		return models.Plant{}, fmt.Errorf("%w: %d", ErrPlantNotFound, id)
	}
	return d.Plants[id], nil
}

// Regions returns the distinct region names, sorted.
func (s *PlantService) Regions() ([]string, error) {
	d, err := s.current()
	if err != nil {
		return nil, err
	}
	if !d.HasColumn(dataset.ColRegion) {
		return nil, ErrRegionUnavailable
	}
	regions := d.Regions()
	sort.Strings(regions)
	return regions, nil
}

// RegionPlants returns up to maxPlants plants in region, in dataset order.
// Region names match case-insensitively.
func (s *PlantService) RegionPlants(region string, maxPlants int) ([]models.Plant, error) {
	d, err := s.current()
	if err != nil {
		return nil, err
	}
	if !d.HasColumn(dataset.ColRegion) {
		return nil, ErrRegionUnavailable
	}
	if maxPlants <= 0 {
		maxPlants = s.cfg.DefaultMaxPlants
	}
	region = strings.TrimSpace(region)
	var out []models.Plant
	for _, p := range d.Plants {
		if strings.EqualFold(p.Region, region) {
			out = append(out, p)
			if len(out) == maxPlants {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, region)
	}
	return out, nil
}

// ForecastPlant forecasts the plant with row id. days of 0 means the default;
// larger values are clamped to the provider horizon.
func (s *PlantService) ForecastPlant(ctx context.Context, id, days int) (models.PlantForecast, error) {
	days, err := validation.NormalizeDays(days, DefaultForecastDays, s.cfg.MaxForecastDays)
	if err != nil {
		return models.PlantForecast{}, err
	}
	p, err := s.Plant(id)
	if err != nil {
		return models.PlantForecast{}, err
	}
	return s.forecaster.ForecastPlant(ctx, p, days)
}

// ForecastRegion forecasts up to maxPlants plants in region.
func (s *PlantService) ForecastRegion(ctx context.Context, region string, days, maxPlants int) (models.RegionalForecast, error) {
	region, err := validation.ValidateRegion(region, MaxRegionNameLength)
	if err != nil {
		return models.RegionalForecast{}, err
	}
	days, err = validation.NormalizeDays(days, DefaultForecastDays, s.cfg.MaxForecastDays)
	if err != nil {
		return models.RegionalForecast{}, err
	}
	plants, err := s.RegionPlants(region, maxPlants)
	if err != nil {
		return models.RegionalForecast{}, err
	}
	loggerFromContext(ctx, s.logger).Debug("regional forecast",
		zap.String("region", region),
		zap.Int("plants", len(plants)),
		zap.Int("days", days),
	)
	return s.forecaster.ForecastRegion(ctx, region, plants, days)
}
