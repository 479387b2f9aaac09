package main

import (
	"testing"

	"github.com/kjstillabower/plant-output-forecaster/internal/config"
)

func TestParseFlags(t *testing.T) {
	cfg := &config.Config{
		DatasetInputFile:  "data/plants.csv",
		DatasetOutputFile: "data/plants_with_weather.csv",
		DatasetCacheFile:  "data/weather_cache.json",
		FetchWorkers:      50,
	}

	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults from config",
			args: nil,
			want: options{input: "data/plants.csv", output: "data/plants_with_weather.csv", cacheFile: "data/weather_cache.json", workers: 50},
		},
		{
			name: "overrides",
			args: []string{"-i", "in.csv", "--output", "out.csv", "--cache", "c.json", "--force-refresh", "-w", "4", "--log-level", "debug"},
			want: options{input: "in.csv", output: "out.csv", cacheFile: "c.json", forceRefresh: true, workers: 4, logLevel: "debug"},
		},
		{name: "zero workers", args: []string{"--workers", "0"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "")
			got, err := parseFlags(tt.args, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("options = %+v, want %+v", got, tt.want)
			}
		})
	}
}
