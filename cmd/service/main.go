package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/plant-output-forecaster/internal/cache"
	"github.com/kjstillabower/plant-output-forecaster/internal/circuitbreaker"
	"github.com/kjstillabower/plant-output-forecaster/internal/client"
	"github.com/kjstillabower/plant-output-forecaster/internal/config"
	"github.com/kjstillabower/plant-output-forecaster/internal/dataset"
	"github.com/kjstillabower/plant-output-forecaster/internal/estimate"
	"github.com/kjstillabower/plant-output-forecaster/internal/forecast"
	httphandler "github.com/kjstillabower/plant-output-forecaster/internal/http"
	"github.com/kjstillabower/plant-output-forecaster/internal/lifecycle"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
	"github.com/kjstillabower/plant-output-forecaster/internal/scheduler"
	"github.com/kjstillabower/plant-output-forecaster/internal/service"
	"github.com/kjstillabower/plant-output-forecaster/internal/weather"
)

func main() {
	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "weather_api",
		IsFailure:        client.IsBreakerFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", "weather_api"),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)

	weatherClient, err := client.NewOpenWeatherClient(client.Options{
		APIKey:            cfg.WeatherAPIKey,
		BaseURL:           cfg.WeatherAPIURL,
		Timeout:           cfg.WeatherAPITimeout,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		RequestsPerSecond: cfg.WeatherAPIRPS,
		Burst:             cfg.WeatherAPIBurst,
		Breaker:           breaker,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.TestingMode {
		logger.Warn("testing mode enabled; skipping API key check")
	} else if err := weatherClient.ValidateAPIKey(context.Background()); err != nil {
		logger.Warn("weather API key check failed", zap.Error(err))
	}

	fileCache, err := cache.LoadFileCache(cfg.DatasetCacheFile)
	if err != nil {
		logger.Warn("weather cache unreadable, starting empty", zap.String("path", cfg.DatasetCacheFile), zap.Error(err))
		fileCache = cache.NewFileCache(cfg.DatasetCacheFile)
	}

	forecastCache, memcacheCloser, err := newForecastCache(cfg, logger)
	if err != nil {
		logger.Fatal("forecast cache", zap.Error(err))
	}

	fetcher := weather.NewFetcher(weatherClient, fileCache, forecastCache, weather.Config{
		Workers:         cfg.FetchWorkers,
		ForecastTTL:     cfg.ForecastCacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
	}, logger)
	processor := dataset.NewProcessor(fetcher, estimate.New(logger), logger)
	engine := forecast.NewEngine(fetcher, forecast.Config{
		FluctuationThreshold: cfg.FluctuationThreshold,
		WindowSize:           cfg.FluctuationWindow,
		Workers:              cfg.ForecastWorkers,
	}, logger)

	plantService := service.NewPlantService(processor, engine, service.Config{
		Paths: dataset.Paths{
			Input:  cfg.DatasetInputFile,
			Output: cfg.DatasetOutputFile,
			Cache:  fileCache.Path(),
		},
		MaxForecastDays:  cfg.ForecastMaxDays,
		DefaultMaxPlants: cfg.RegionMaxPlants,
	}, logger)

	// Health reports "starting" until the first load completes.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DatasetRefreshTimeout)
		defer cancel()
		if err := plantService.Load(ctx); err != nil {
			logger.Error("initial dataset load failed", zap.Error(err))
		}
	}()

	refreshScheduler := scheduler.New(plantService, cfg.DatasetRefreshInterval, cfg.DatasetRefreshTimeout, logger)
	if err := refreshScheduler.Start(); err != nil {
		logger.Fatal("refresh scheduler", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedFallbackPct: cfg.DegradedFallbackPct,
		BreakerState:        breaker.State,
		StartTime:           time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	handler := httphandler.NewHandler(plantService, healthConfig, cfg.DatasetRefreshTimeout, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        newLimiter(cfg),
	}, logger)

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Regional forecasts and refreshes outlast the default write budget.
		WriteTimeout: cfg.RequestTimeout + cfg.DatasetRefreshTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	refreshScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger, fetcher.Cache()); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newForecastCache builds the configured forecast cache. The memcached client is
// also returned so shutdown can close it; it is nil for the in-memory backend.
func newForecastCache(cfg *config.Config, logger *zap.Logger) (cache.ForecastCache, *cache.MemcachedCache, error) {
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("forecast cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	}
	logger.Info("forecast cache backend: in_memory")
	return cache.NewInMemoryCache(), nil, nil
}

// newLimiter returns the inbound forecast limiter, or nil when disabled.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}
