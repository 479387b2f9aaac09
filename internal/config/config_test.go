package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideVars = []string{
	"ENV_NAME", "WEATHER_API_KEY", "PORT", "CACHE_BACKEND", "MEMCACHED_ADDRS",
	"DATASET_INPUT_FILE", "DATASET_OUTPUT_FILE", "DATASET_CACHE_FILE",
}

// isolate clears every variable Load reads and switches into a fresh
// directory holding config/dev.yaml.
func isolate(t *testing.T, yaml string) string {
	t.Helper()
	for _, k := range overrideVars {
		if _, ok := os.LookupEnv(k); ok {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, yaml)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	isolate(t, minimalEnvYAML)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	dir := isolate(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t, minimalEnvYAML)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"RetryAttempts", cfg.RetryAttempts, 1},
		{"FetchWorkers", cfg.FetchWorkers, 50},
		{"ForecastMaxDays", cfg.ForecastMaxDays, 5},
		{"FluctuationThreshold", cfg.FluctuationThreshold, 0.3},
		{"FluctuationWindow", cfg.FluctuationWindow, 6},
		{"RegionMaxPlants", cfg.RegionMaxPlants, 20},
		{"ForecastCacheTTL", cfg.ForecastCacheTTL, 30 * time.Minute},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"DatasetRefreshInterval", cfg.DatasetRefreshInterval, time.Duration(0)},
		{"DatasetCacheFile", cfg.DatasetCacheFile, "data/weather_cache.json"},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.openweathermap.org/data/2.5"},
		{"TestingMode", cfg.TestingMode, false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t, minimalEnvYAML+"\ncache:\n  backend: in_memory\n")
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_BACKEND", "MEMCACHED")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("DATASET_INPUT_FILE", "/srv/plants.csv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.DatasetInputFile != "/srv/plants.csv" {
		t.Errorf("DatasetInputFile = %q", cfg.DatasetInputFile)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := isolate(t, minimalEnvYAML)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Cleanup(func() { os.Unsetenv("DATASET_OUTPUT_FILE") })
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DATASET_OUTPUT_FILE=out/from-dotenv.csv\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatasetOutputFile != "out/from-dotenv.csv" {
		t.Errorf("DatasetOutputFile = %q, want value from .env", cfg.DatasetOutputFile)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	isolate(t, minimalEnvYAML)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_DurationFallbacks(t *testing.T) {
	yaml := `
weather_api:
  timeout: ""
cache:
  ttl: "invalid"
dataset:
  refresh_interval: "15m"
`
	isolate(t, yaml)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 10*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 10s default", cfg.WeatherAPITimeout)
	}
	if cfg.ForecastCacheTTL != 30*time.Minute {
		t.Errorf("ForecastCacheTTL = %v, want 30m default", cfg.ForecastCacheTTL)
	}
	if cfg.DatasetRefreshInterval != 15*time.Minute {
		t.Errorf("DatasetRefreshInterval = %v, want 15m", cfg.DatasetRefreshInterval)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero weather timeout", "weather_api:\n  timeout: \"0s\"\n", "WEATHER_API_TIMEOUT"},
		{"unknown backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"negative workers", "fetch:\n  workers: -1\n", "fetch.workers"},
		{"negative threshold", "forecast:\n  fluctuation_threshold: -0.1\n", "fluctuation_threshold"},
		{"negative refresh", "dataset:\n  refresh_interval: \"-1m\"\n", "refresh_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t, tt.yaml)
			t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error, got %+v", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want message containing %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RequestTimeoutRaisedAboveUpstream(t *testing.T) {
	isolate(t, "weather_api:\n  timeout: \"20s\"\nrequest:\n  timeout: \"5s\"\n")
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 21*time.Second {
		t.Errorf("RequestTimeout = %v, want 21s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	dir := isolate(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "not valid: yaml: [[[")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "secrets") {
		t.Errorf("Load() error = %v, want message about secrets", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	isolate(t, "not: valid: yaml: [[[")
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Load() error = %v, want message about parse config", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	root := findProjectRoot(t)
	isolate(t, minimalEnvYAML)
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIURL == "" || cfg.ServerPort == "" || cfg.DatasetInputFile == "" {
		t.Errorf("Load() did not populate config from config/dev.yaml: %+v", cfg)
	}
}

func TestLoad_TestingModeTrue(t *testing.T) {
	isolate(t, minimalEnvYAML+"\ntesting_mode: true\n")
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.TestingMode {
		t.Error("TestingMode = false, want true")
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
