package dataset

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/plant-output-forecaster/internal/cache"
	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
	"github.com/kjstillabower/plant-output-forecaster/internal/weather"
)

// WeatherSource resolves current weather for a batch of coordinates, in input
// order, persisting its cache once at the end. refresh bypasses cached entries.
type WeatherSource interface {
	FetchBatch(ctx context.Context, coords []weather.Coordinate, refresh bool) ([]models.Observation, error)
}

// Estimator computes the expected output of a plant under an observation.
type Estimator interface {
	Estimate(p models.Plant, w models.Observation) float64
}

// Paths locates the dataset artefacts. Cache must be the file backing the
// WeatherSource's cache.
type Paths struct {
	Input  string
	Output string
	Cache  string
}

// Processor produces the augmented dataset.
type Processor struct {
	weather   WeatherSource
	estimator Estimator
	logger    *zap.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(ws WeatherSource, est Estimator, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{weather: ws, estimator: est, logger: logger}
}

// Process returns the augmented dataset. With forceRefresh, or when either the
// output or the cache file is missing, weather is fetched for every plant and
// the augmented dataset is written to paths.Output; otherwise the persisted
// output is loaded unchanged. Missing columns and an unreadable input are
// returned as errors. Any other augmentation failure is logged and the raw
// input dataset is returned instead.
func (p *Processor) Process(ctx context.Context, paths Paths, forceRefresh bool) (*Dataset, error) {
	start := time.Now()
	d, outcome, err := p.process(ctx, paths, forceRefresh)
	observability.DatasetRefreshTotal.WithLabelValues(outcome).Inc()
	observability.DatasetRefreshDurationSeconds.Observe(time.Since(start).Seconds())
	return d, err
}

func (p *Processor) process(ctx context.Context, paths Paths, forceRefresh bool) (*Dataset, string, error) {
	raw, err := Load(paths.Input)
	if err != nil {
		return nil, "error", err
	}

	if !forceRefresh && exists(paths.Output) && exists(paths.Cache) {
		d, err := Load(paths.Output)
		if err == nil {
			p.logger.Info("using existing augmented dataset",
				zap.String("output", paths.Output),
				zap.Int("plants", len(d.Plants)),
			)
			return d, "reused", nil
		}
		p.logger.Warn("augmented dataset unreadable, rebuilding",
			zap.String("output", paths.Output),
			zap.Error(err),
		)
	}

	p.logger.Info("fetching weather for dataset",
		zap.String("input", paths.Input),
		zap.Int("plants", len(raw.Plants)),
		zap.Bool("forceRefresh", forceRefresh),
	)
	d, err := p.augment(ctx, raw, paths.Output, forceRefresh)
	if err != nil {
		p.logger.Error("dataset augmentation failed, serving raw dataset",
			zap.String("input", paths.Input),
			zap.Error(err),
		)
		return raw, "fallback", nil
	}
	p.logger.Info("dataset refreshed",
		zap.String("output", paths.Output),
		zap.Int("plants", len(d.Plants)),
	)
	return d, "refreshed", nil
}

func (p *Processor) augment(ctx context.Context, raw *Dataset, output string, refresh bool) (*Dataset, error) {
	coords := make([]weather.Coordinate, len(raw.Plants))
	for i, pl := range raw.Plants {
		coords[i] = weather.Coordinate{Lat: pl.Latitude, Lon: pl.Longitude}
	}

	obs, err := p.weather.FetchBatch(ctx, coords, refresh)
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs := make([]float64, len(raw.Plants))
	for i, pl := range raw.Plants {
		outputs[i] = p.estimator.Estimate(pl, obs[i])
	}

	d, err := raw.Augment(obs, outputs)
	if err != nil {
		return nil, err
	}
	data, err := d.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	if err := cache.WriteFileAtomic(output, data); err != nil {
		return nil, fmt.Errorf("write dataset: %w", err)
	}
	return d, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
