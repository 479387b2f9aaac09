// Package weather resolves coordinates to weather observations and forecasts,
// cache first, substituting a neutral observation whenever the provider fails.
package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/plant-output-forecaster/internal/cache"
	"github.com/kjstillabower/plant-output-forecaster/internal/client"
	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
	"github.com/kjstillabower/plant-output-forecaster/internal/traffic"
	"github.com/kjstillabower/plant-output-forecaster/internal/validation"
)

// ErrForecastUnavailable wraps any failure to obtain a forecast series.
var ErrForecastUnavailable = errors.New("weather forecast unavailable")

// DefaultWorkers caps concurrent provider calls during a batch fetch.
const DefaultWorkers = 50

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Config tunes a Fetcher. Zero values take defaults.
type Config struct {
	Workers         int
	ForecastTTL     time.Duration
	CoalesceTimeout time.Duration
}

// Fetcher resolves current observations through the file cache and forecast
// series through the TTL forecast cache.
type Fetcher struct {
	client      client.WeatherClient
	cache       *cache.FileCache
	forecasts   cache.ForecastCache
	forecastTTL time.Duration
	workers     int
	logger      *zap.Logger

	current  *requestCoalescer[models.Observation]
	forecast *requestCoalescer[[]models.ForecastSample]
}

// NewFetcher wires a provider client and caches into a Fetcher. forecasts may be nil
// to disable forecast caching.
func NewFetcher(c client.WeatherClient, fileCache *cache.FileCache, forecasts cache.ForecastCache, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ForecastTTL <= 0 {
		cfg.ForecastTTL = 30 * time.Minute
	}
	if cfg.CoalesceTimeout <= 0 {
		cfg.CoalesceTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:      c,
		cache:       fileCache,
		forecasts:   forecasts,
		forecastTTL: cfg.ForecastTTL,
		workers:     cfg.Workers,
		logger:      logger,
		current:     newRequestCoalescer[models.Observation](cfg.CoalesceTimeout),
		forecast:    newRequestCoalescer[[]models.ForecastSample](cfg.CoalesceTimeout),
	}
}

// Cache returns the backing current-weather cache.
func (f *Fetcher) Cache() *cache.FileCache {
	return f.cache
}

// FetchCurrent returns the observation at (lat, lon). It never fails: invalid
// coordinates and provider errors yield models.NeutralObservation, which is not
// cached. Successful lookups are stored in the cache but not flushed.
func (f *Fetcher) FetchCurrent(ctx context.Context, lat, lon float64) models.Observation {
	return f.fetchCurrent(ctx, lat, lon, false)
}

// fetchCurrent resolves one coordinate. With refresh the cache is not consulted
// before the provider; a failed provider call then keeps the cached entry, if any.
func (f *Fetcher) fetchCurrent(ctx context.Context, lat, lon float64, refresh bool) models.Observation {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		f.fallback(lat, lon, err)
		return models.NeutralObservation()
	}

	key := cache.Key(lat, lon)
	if !refresh {
		if obs, ok := f.cache.Get(key); ok {
			observability.CacheHitsTotal.WithLabelValues("weather").Inc()
			return obs
		}
		observability.CacheMissesTotal.WithLabelValues("weather").Inc()
	}

	obs, err := f.current.GetOrDo(ctx, key, func() (models.Observation, error) {
		obs, err := f.client.GetCurrent(ctx, lat, lon)
		if err != nil {
			return models.Observation{}, err
		}
		obs = obs.Clamped()
		f.cache.Put(key, obs)
		return obs, nil
	})
	if err != nil {
		if refresh {
			if cached, ok := f.cache.Get(key); ok {
				f.staleFallback(lat, lon, err)
				return cached
			}
		}
		f.fallback(lat, lon, err)
		return models.NeutralObservation()
	}
	traffic.RecordSuccess()
	return obs
}

func (f *Fetcher) staleFallback(lat, lon float64, err error) {
	reason := string(client.CategorizeError(err))
	observability.WeatherFallbacksTotal.WithLabelValues(reason).Inc()
	traffic.RecordFallback()
	f.logger.Warn("weather refresh failed, keeping cached observation",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (f *Fetcher) fallback(lat, lon float64, err error) {
	reason := string(client.CategorizeError(err))
	if errors.Is(err, validation.ErrInvalidCoordinates) {
		reason = string(client.ErrorCategoryInvalidCoordinates)
	}
	observability.WeatherFallbacksTotal.WithLabelValues(reason).Inc()
	traffic.RecordFallback()
	f.logger.Warn("weather lookup failed, using neutral default",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// FetchBatch resolves every coordinate with at most Workers provider calls in
// flight and returns observations in input order. Failed lookups resolve to the
// neutral default and never abort the batch. With refresh every coordinate is
// fetched from the provider even when cached; results still replace the cache
// entries. The cache is flushed exactly once, after every lookup has finished;
// only a flush failure is returned.
func (f *Fetcher) FetchBatch(ctx context.Context, coords []Coordinate, refresh bool) ([]models.Observation, error) {
	start := time.Now()
	defer func() {
		observability.BatchFetchDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	out := make([]models.Observation, len(coords))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, c := range coords {
		g.Go(func() error {
			out[i] = f.fetchCurrent(gCtx, c.Lat, c.Lon, refresh)
			return nil
		})
	}
	_ = g.Wait()

	if err := f.cache.Flush(); err != nil {
		return out, fmt.Errorf("flush weather cache: %w", err)
	}
	f.logger.Info("batch weather fetch complete",
		zap.Int("locations", len(coords)),
		zap.Bool("refresh", refresh),
		zap.Int("cachedEntries", f.cache.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// FetchForecast returns the forecast series at (lat, lon) for days (clamped to
// [1,5]), ascending by time with 8 samples per day. Unlike FetchCurrent it
// reports failure: a forecast cannot be fabricated from defaults.
func (f *Fetcher) FetchForecast(ctx context.Context, lat, lon float64, days int) ([]models.ForecastSample, error) {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
	}
	days = client.ClampDays(days)
	key := cache.ForecastKey(lat, lon, days)

	if f.forecasts != nil {
		series, ok, err := f.forecasts.Get(ctx, key)
		if err != nil {
			f.logger.Warn("forecast cache get failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
			return series, nil
		}
		observability.CacheMissesTotal.WithLabelValues("forecast").Inc()
	}

	series, err := f.forecast.GetOrDo(ctx, key, func() ([]models.ForecastSample, error) {
		series, err := f.client.GetForecast(ctx, lat, lon, days)
		if err != nil {
			return nil, err
		}
		if f.forecasts != nil {
			if err := f.forecasts.Set(ctx, key, series, f.forecastTTL); err != nil {
				f.logger.Warn("forecast cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return series, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForecastUnavailable, err)
	}
	return series, nil
}
