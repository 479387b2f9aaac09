package models

import "time"

// PredictionPoint is the predicted output of one plant at one forecast step.
type PredictionPoint struct {
	Timestamp         time.Time   `json:"timestamp"`
	PredictedOutputMW float64     `json:"predicted_output_mw"`
	EfficiencyFactor  float64     `json:"efficiency_factor"`
	Weather           Observation `json:"weather_conditions"`
}

// DailySummary aggregates one calendar day of predictions.
type DailySummary struct {
	Date            string  `json:"date"`
	TotalOutputMWh  float64 `json:"total_output_mwh"`
	AverageOutputMW float64 `json:"average_output_mw"`
	PeakOutputMW    float64 `json:"peak_output_mw"`
	MinOutputMW     float64 `json:"min_output_mw"`
	Variability     float64 `json:"variability"`
}

// Severity tiers for fluctuation alerts.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// FluctuationAlert flags a window of the prediction series whose coefficient
// of variation exceeds the configured threshold.
type FluctuationAlert struct {
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	VariabilityScore float64   `json:"variability_score"`
	Severity         string    `json:"severity"`
	Recommendation   string    `json:"recommendation"`
}

// PlantForecast is the forecast result for a single plant.
type PlantForecast struct {
	PlantID           int                `json:"plant_id"`
	PlantName         string             `json:"plant_name"`
	EnergySource      Source             `json:"energy_source"`
	CapacityMW        float64            `json:"capacity_mw"`
	ForecastPeriod    string             `json:"forecast_period"`
	Predictions       []PredictionPoint  `json:"hourly_predictions"`
	DailySummaries    []DailySummary     `json:"daily_summaries"`
	FluctuationAlerts []FluctuationAlert `json:"fluctuation_alerts"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// RegionalPoint is the summed output of all plants in a region at one step.
type RegionalPoint struct {
	Timestamp           time.Time `json:"timestamp"`
	TotalOutputMW       float64   `json:"total_output_mw"`
	CapacityUtilization float64   `json:"capacity_utilization"`
	PlantCount          int       `json:"plant_count"`
}

// RegionalDailySummary aggregates one calendar day of regional output.
type RegionalDailySummary struct {
	Date               string  `json:"date"`
	TotalProductionMWh float64 `json:"total_production_mwh"`
	AverageOutputMW    float64 `json:"average_output_mw"`
	PeakOutputMW       float64 `json:"peak_output_mw"`
}

// RegionalSummary is the aggregate across all successfully forecast plants.
type RegionalSummary struct {
	Points                     []RegionalPoint        `json:"hourly_regional_output"`
	DailySummaries             []RegionalDailySummary `json:"daily_summaries"`
	PeakRegionalOutput         float64                `json:"peak_regional_output"`
	AverageCapacityUtilization float64                `json:"average_capacity_utilization"`
}

// RegionalForecast is the forecast result for a region.
type RegionalForecast struct {
	RegionName       string          `json:"region_name"`
	TotalCapacityMW  float64         `json:"total_capacity_mw"`
	PlantCount       int             `json:"plant_count"`
	ExcludedPlants   []string        `json:"excluded_plants,omitempty"`
	ForecastPeriod   string          `json:"forecast_period"`
	Summary          RegionalSummary `json:"regional_summary"`
	IndividualPlants []PlantForecast `json:"individual_plants"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// Recommendation is one operational hint derived from a daily summary.
type Recommendation struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// DayRecommendations groups the recommendations for one date.
type DayRecommendations struct {
	Date            string           `json:"date"`
	Recommendations []Recommendation `json:"recommendations"`
}
