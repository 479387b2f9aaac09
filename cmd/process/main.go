// Command process augments the plant dataset with current weather and
// estimated output, then exits. It is the offline counterpart of
// POST /plants/refresh.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kjstillabower/plant-output-forecaster/internal/cache"
	"github.com/kjstillabower/plant-output-forecaster/internal/client"
	"github.com/kjstillabower/plant-output-forecaster/internal/config"
	"github.com/kjstillabower/plant-output-forecaster/internal/dataset"
	"github.com/kjstillabower/plant-output-forecaster/internal/estimate"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
	"github.com/kjstillabower/plant-output-forecaster/internal/weather"
)

type options struct {
	input        string
	output       string
	cacheFile    string
	forceRefresh bool
	workers      int
	logLevel     string
}

// parseFlags reads flags over cfg. Flags not given keep the configured value.
func parseFlags(args []string, cfg *config.Config) (options, error) {
	fs := pflag.NewFlagSet("process", pflag.ContinueOnError)
	opts := options{}
	fs.StringVarP(&opts.input, "input", "i", cfg.DatasetInputFile, "plant dataset CSV")
	fs.StringVarP(&opts.output, "output", "o", cfg.DatasetOutputFile, "augmented dataset CSV")
	fs.StringVar(&opts.cacheFile, "cache", cfg.DatasetCacheFile, "weather cache JSON")
	fs.BoolVarP(&opts.forceRefresh, "force-refresh", "f", false, "fetch weather even when outputs exist")
	fs.IntVarP(&opts.workers, "workers", "w", cfg.FetchWorkers, "concurrent weather lookups")
	fs.StringVar(&opts.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "DEBUG, INFO, WARN or ERROR")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.workers < 1 {
		return options{}, fmt.Errorf("--workers must be at least 1, got %d", opts.workers)
	}
	return opts, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	opts, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger, err := observability.NewLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(opts, cfg, logger); err != nil {
		logger.Error("dataset processing failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(opts options, cfg *config.Config, logger *zap.Logger) error {
	weatherClient, err := client.NewOpenWeatherClient(client.Options{
		APIKey:            cfg.WeatherAPIKey,
		BaseURL:           cfg.WeatherAPIURL,
		Timeout:           cfg.WeatherAPITimeout,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		RequestsPerSecond: cfg.WeatherAPIRPS,
		Burst:             cfg.WeatherAPIBurst,
	})
	if err != nil {
		return fmt.Errorf("weather client: %w", err)
	}
	fileCache, err := cache.LoadFileCache(opts.cacheFile)
	if err != nil {
		logger.Warn("weather cache unreadable, starting empty", zap.String("path", opts.cacheFile), zap.Error(err))
		fileCache = cache.NewFileCache(opts.cacheFile)
	}
	fetcher := weather.NewFetcher(weatherClient, fileCache, nil, weather.Config{Workers: opts.workers}, logger)
	processor := dataset.NewProcessor(fetcher, estimate.New(logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := processor.Process(ctx, dataset.Paths{
		Input:  opts.input,
		Output: opts.output,
		Cache:  opts.cacheFile,
	}, opts.forceRefresh)
	if err != nil {
		return err
	}
	logger.Info("dataset ready",
		zap.Int("plants", len(d.Plants)),
		zap.Bool("augmented", d.Augmented),
		zap.String("output", opts.output),
	)
	return nil
}
