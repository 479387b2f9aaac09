package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func benchClient(b *testing.B) *OpenWeatherClient {
	b.Helper()
	c, err := NewOpenWeatherClient(Options{
		APIKey:  "test-api-key-1234567890",
		BaseURL: "https://api.openweathermap.org/data/2.5",
		Timeout: time.Second,
	})
	if err != nil {
		b.Fatalf("Failed to create client: %v", err)
	}
	return c
}

// BenchmarkClient_BuildRequest benchmarks HTTP request construction.
func BenchmarkClient_BuildRequest(b *testing.B) {
	client := benchClient(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.buildRequest(ctx, "/forecast", 37.5, -119.5, nil)
	}
}

// BenchmarkClient_ParseForecast benchmarks decoding a 40-step forecast payload.
func BenchmarkClient_ParseForecast(b *testing.B) {
	items := make([]map[string]any, 40)
	for i := range items {
		items[i] = map[string]any{
			"dt":     1700000000 + i*10800,
			"main":   map[string]any{"temp": 15.5},
			"wind":   map[string]any{"speed": 6.1},
			"clouds": map[string]any{"all": 35},
		}
	}
	raw, _ := json.Marshal(map[string]any{"list": items, "city": map[string]any{"timezone": 3600}})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var resp forecastResponse
		_ = json.Unmarshal(raw, &resp)
	}
}

// BenchmarkClient_IsRetryable benchmarks retry decision logic.
func BenchmarkClient_IsRetryable(b *testing.B) {
	client := benchClient(b)

	testErrors := []error{
		ErrRateLimited,
		ErrUpstreamFailure,
		fmt.Errorf("timeout: context deadline exceeded"),
		fmt.Errorf("invalid request"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.isRetryable(testErrors[i%len(testErrors)])
	}
}

// BenchmarkStatusLabel benchmarks HTTP status code to label conversion.
func BenchmarkStatusLabel(b *testing.B) {
	statusCodes := []int{200, 400, 429, 500, 503}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = statusLabel(statusCodes[i%len(statusCodes)])
	}
}
