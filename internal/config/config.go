package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	TestingMode bool

	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherAPIRPS     float64
	WeatherAPIBurst   int

	RequestTimeout time.Duration

	CacheBackend     string // forecast cache: "in_memory" or "memcached"
	ForecastCacheTTL time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	FetchWorkers    int
	CoalesceTimeout time.Duration

	ForecastMaxDays      int
	FluctuationThreshold float64
	FluctuationWindow    int
	RegionMaxPlants      int
	ForecastWorkers      int

	DatasetInputFile       string
	DatasetOutputFile      string
	DatasetCacheFile       string
	DatasetRefreshInterval time.Duration
	DatasetRefreshTimeout  time.Duration

	ShutdownTimeout time.Duration

	DegradedWindow      time.Duration
	DegradedFallbackPct int
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string  `yaml:"url"`
		Timeout string  `yaml:"timeout"`
		RPS     float64 `yaml:"rate_limit_rps"`
		Burst   int     `yaml:"rate_limit_burst"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Fetch struct {
		Workers         int    `yaml:"workers"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"fetch"`

	Forecast struct {
		MaxDays              int     `yaml:"max_days"`
		FluctuationThreshold float64 `yaml:"fluctuation_threshold"`
		FluctuationWindow    int     `yaml:"fluctuation_window"`
		RegionMaxPlants      int     `yaml:"region_max_plants"`
		Workers              int     `yaml:"workers"`
	} `yaml:"forecast"`

	Dataset struct {
		InputFile       string `yaml:"input_file"`
		OutputFile      string `yaml:"output_file"`
		CacheFile       string `yaml:"cache_file"`
		RefreshInterval string `yaml:"refresh_interval"`
		RefreshTimeout  string `yaml:"refresh_timeout"`
	} `yaml:"dataset"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedFallbackPct int    `yaml:"degraded_fallback_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// envOverrides are applied over the YAML file when set.
type envOverrides struct {
	WeatherAPIKey     string `envconfig:"WEATHER_API_KEY"`
	Port              string `envconfig:"PORT"`
	CacheBackend      string `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs    string `envconfig:"MEMCACHED_ADDRS"`
	DatasetInputFile  string `envconfig:"DATASET_INPUT_FILE"`
	DatasetOutputFile string `envconfig:"DATASET_OUTPUT_FILE"`
	DatasetCacheFile  string `envconfig:"DATASET_CACHE_FILE"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, after loading .env from the working directory if one
// exists. Environment variables override file values; the API key comes from
// WEATHER_API_KEY or the secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var ov envOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = firstNonEmpty(ov.Port, fc.Server.Port, "8080")

	cfg.WeatherAPIKey = strings.TrimSpace(ov.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		key, err := loadAPIKeyFromSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.WeatherAPIRPS = fc.WeatherAPI.RPS
	if cfg.WeatherAPIRPS < 0 {
		cfg.WeatherAPIRPS = 0
	}
	cfg.WeatherAPIBurst = fc.WeatherAPI.Burst
	if cfg.WeatherAPIBurst <= 0 {
		cfg.WeatherAPIBurst = 10
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 60*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(ov.CacheBackend, fc.Cache.Backend, "in_memory"))
	cfg.ForecastCacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)
	cfg.MemcachedAddrs = firstNonEmpty(ov.MemcachedAddrs, fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	// One attempt per lookup unless retries are configured explicitly.
	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.FetchWorkers = fc.Fetch.Workers
	if cfg.FetchWorkers == 0 {
		cfg.FetchWorkers = 50
	}
	cfg.CoalesceTimeout = parseDuration(fc.Fetch.CoalesceTimeout, 30*time.Second)

	cfg.ForecastMaxDays = fc.Forecast.MaxDays
	if cfg.ForecastMaxDays <= 0 || cfg.ForecastMaxDays > 5 {
		cfg.ForecastMaxDays = 5
	}
	cfg.FluctuationThreshold = fc.Forecast.FluctuationThreshold
	if cfg.FluctuationThreshold == 0 {
		cfg.FluctuationThreshold = 0.3
	}
	cfg.FluctuationWindow = fc.Forecast.FluctuationWindow
	if cfg.FluctuationWindow <= 0 {
		cfg.FluctuationWindow = 6
	}
	cfg.RegionMaxPlants = fc.Forecast.RegionMaxPlants
	if cfg.RegionMaxPlants <= 0 {
		cfg.RegionMaxPlants = 20
	}
	cfg.ForecastWorkers = fc.Forecast.Workers
	if cfg.ForecastWorkers <= 0 {
		cfg.ForecastWorkers = 10
	}

	cfg.DatasetInputFile = firstNonEmpty(ov.DatasetInputFile, fc.Dataset.InputFile, "data/renewable_plants.csv")
	cfg.DatasetOutputFile = firstNonEmpty(ov.DatasetOutputFile, fc.Dataset.OutputFile, "data/plants_with_weather.csv")
	cfg.DatasetCacheFile = firstNonEmpty(ov.DatasetCacheFile, fc.Dataset.CacheFile, "data/weather_cache.json")
	cfg.DatasetRefreshInterval = parseDurationOrZero(fc.Dataset.RefreshInterval, 0)
	cfg.DatasetRefreshTimeout = parseDuration(fc.Dataset.RefreshTimeout, 5*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedFallbackPct = fc.Health.DegradedFallbackPct
	if cfg.DegradedFallbackPct <= 0 {
		cfg.DegradedFallbackPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above
// WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.FetchWorkers < 1 {
		return fmt.Errorf("fetch.workers must be at least 1, got %d", cfg.FetchWorkers)
	}
	if cfg.FluctuationThreshold <= 0 {
		return fmt.Errorf("forecast.fluctuation_threshold must be positive, got %v", cfg.FluctuationThreshold)
	}
	if cfg.DatasetRefreshInterval < 0 {
		return fmt.Errorf("dataset.refresh_interval must not be negative, got %v", cfg.DatasetRefreshInterval)
	}
	return nil
}
