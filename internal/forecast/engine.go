// Package forecast turns provider weather forecasts into per-plant and
// regional production forecasts with fluctuation alerts.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
	"github.com/kjstillabower/plant-output-forecaster/internal/validation"
	"github.com/kjstillabower/plant-output-forecaster/internal/weather"
)

var (
	// ErrUnsupportedSource is returned for plants whose source has no forecast model.
	ErrUnsupportedSource = errors.New("unsupported energy source")
	// ErrMissingPlantData is returned when a plant lacks capacity or coordinates.
	ErrMissingPlantData = errors.New("missing plant data")
	// ErrNoSuccessfulForecasts is returned when every plant in a region failed.
	ErrNoSuccessfulForecasts = errors.New("no successful forecasts generated")
	// ErrForecastUnavailable is returned when the weather forecast could not be obtained.
	ErrForecastUnavailable = weather.ErrForecastUnavailable
)

// Source provides weather forecast series.
type Source interface {
	FetchForecast(ctx context.Context, lat, lon float64, days int) ([]models.ForecastSample, error)
}

// Config tunes an Engine. Zero values take defaults.
type Config struct {
	FluctuationThreshold float64
	WindowSize           int
	Workers              int
}

// Engine produces plant and regional forecasts.
type Engine struct {
	source    Source
	threshold float64
	window    int
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine returns an Engine reading forecasts from source.
func NewEngine(source Source, cfg Config, logger *zap.Logger) *Engine {
	if cfg.FluctuationThreshold <= 0 {
		cfg.FluctuationThreshold = DefaultFluctuationThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:    source,
		threshold: cfg.FluctuationThreshold,
		window:    cfg.WindowSize,
		workers:   cfg.Workers,
		logger:    logger,
		now:       time.Now,
	}
}

func forecastPeriod(days int) string {
	return fmt.Sprintf("%d days", days)
}

// Predict applies the source's efficiency heuristic to every sample.
func Predict(p models.Plant, samples []models.ForecastSample) ([]models.PredictionPoint, error) {
	eff, ok := efficiencyFor(p.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, p.Source)
	}
	points := make([]models.PredictionPoint, 0, len(samples))
	for _, s := range samples {
		e := eff(s.Time, s.Observation)
		points = append(points, models.PredictionPoint{
			Timestamp:         s.Time,
			PredictedOutputMW: round(p.CapacityMW*e, 2),
			EfficiencyFactor:  round(e, 3),
			Weather:           s.Observation,
		})
	}
	return points, nil
}

func checkPlant(p models.Plant) error {
	if !(p.CapacityMW > 0) {
		return fmt.Errorf("%w: plant %q has no capacity", ErrMissingPlantData, p.Name)
	}
	if err := validation.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
		return fmt.Errorf("%w: plant %q: %v", ErrMissingPlantData, p.Name, err)
	}
	if _, ok := efficiencyFor(p.Source); !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedSource, p.Source)
	}
	return nil
}

// ForecastPlant forecasts one plant for days days (clamped by the provider
// client). The plant is checked before any provider call.
func (e *Engine) ForecastPlant(ctx context.Context, p models.Plant, days int) (models.PlantForecast, error) {
	f, err := e.forecastPlant(ctx, p, days)
	observability.ForecastRequestsTotal.WithLabelValues("plant", outcomeLabel(err)).Inc()
	return f, err
}

func (e *Engine) forecastPlant(ctx context.Context, p models.Plant, days int) (models.PlantForecast, error) {
	p = p.WithDefaults()
	if err := checkPlant(p); err != nil {
		return models.PlantForecast{}, err
	}

	samples, err := e.source.FetchForecast(ctx, p.Latitude, p.Longitude, days)
	if err != nil {
		if errors.Is(err, ErrForecastUnavailable) {
			return models.PlantForecast{}, err
		}
		return models.PlantForecast{}, fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
	}

	points, err := Predict(p, samples)
	if err != nil {
		return models.PlantForecast{}, err
	}
	alerts := DetectFluctuations(points, e.window, e.threshold)
	for _, a := range alerts {
		observability.FluctuationAlertsTotal.WithLabelValues(a.Severity).Inc()
	}

	return models.PlantForecast{
		PlantID:           p.ID,
		PlantName:         p.Name,
		EnergySource:      p.Source,
		CapacityMW:        p.CapacityMW,
		ForecastPeriod:    forecastPeriod(days),
		Predictions:       points,
		DailySummaries:    DailySummaries(points),
		FluctuationAlerts: alerts,
		GeneratedAt:       e.now().UTC(),
	}, nil
}

// ForecastRegion forecasts every plant concurrently and aggregates the
// successful ones. Failed plants are logged and listed as excluded; if none
// succeed ErrNoSuccessfulForecasts is returned.
func (e *Engine) ForecastRegion(ctx context.Context, region string, plants []models.Plant, days int) (models.RegionalForecast, error) {
	results := make([]models.PlantForecast, len(plants))
	errs := make([]error, len(plants))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, p := range plants {
		g.Go(func() error {
			results[i], errs[i] = e.forecastPlant(gCtx, p, days)
			return nil
		})
	}
	_ = g.Wait()

	var (
		succeeded []models.PlantForecast
		excluded  []string
		capacity  float64
		loc       *time.Location
	)
	for i, err := range errs {
		if err != nil {
			e.logger.Warn("plant excluded from regional forecast",
				zap.String("region", region),
				zap.String("plant", plants[i].Name),
				zap.Error(err),
			)
			excluded = append(excluded, plants[i].Name)
			continue
		}
		f := results[i]
		if loc == nil && len(f.Predictions) > 0 {
			loc = f.Predictions[0].Timestamp.Location()
		}
		succeeded = append(succeeded, f)
		capacity += f.CapacityMW
	}
	if len(succeeded) == 0 {
		observability.ForecastRequestsTotal.WithLabelValues("region", "error").Inc()
		if err := ctx.Err(); err != nil {
			return models.RegionalForecast{}, fmt.Errorf("%w: %v", ErrNoSuccessfulForecasts, err)
		}
		return models.RegionalForecast{}, ErrNoSuccessfulForecasts
	}
	observability.ForecastRequestsTotal.WithLabelValues("region", "success").Inc()

	return models.RegionalForecast{
		RegionName:       region,
		TotalCapacityMW:  capacity,
		PlantCount:       len(succeeded),
		ExcludedPlants:   excluded,
		ForecastPeriod:   forecastPeriod(days),
		Summary:          AggregateRegional(succeeded, capacity, loc),
		IndividualPlants: succeeded,
		GeneratedAt:      e.now().UTC(),
	}, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUnsupportedSource):
		return "unsupported_source"
	case errors.Is(err, ErrMissingPlantData):
		return "missing_data"
	case errors.Is(err, ErrForecastUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
