package models

import "time"

// Observation is one weather reading used to estimate plant output.
// The JSON shape is the on-disk cache format.
type Observation struct {
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"wind_speed"`
	WaterFlow   float64 `json:"water_flow"`  // precipitation proxy, mm/h (current) or mm/3h (forecast)
	CloudCover  float64 `json:"cloud_cover"` // percent, 0-100
}

// NeutralObservation is substituted whenever the provider cannot be reached or
// the coordinate is invalid, so the pipeline always produces an estimate.
func NeutralObservation() Observation {
	return Observation{
		Temperature: 15,
		WindSpeed:   5,
		WaterFlow:   0,
		CloudCover:  50,
	}
}

// Clamped returns a copy with cloud cover restricted to [0,100] and non-negative
// wind and water flow.
func (o Observation) Clamped() Observation {
	if o.CloudCover < 0 {
		o.CloudCover = 0
	}
	if o.CloudCover > 100 {
		o.CloudCover = 100
	}
	if o.WindSpeed < 0 {
		o.WindSpeed = 0
	}
	if o.WaterFlow < 0 {
		o.WaterFlow = 0
	}
	return o
}

// ForecastSample is a single step of a provider forecast.
type ForecastSample struct {
	Time        time.Time   `json:"timestamp"`
	Observation Observation `json:"weather"`
}
