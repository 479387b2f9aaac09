package forecast

import (
	"math"
	"time"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
)

// Forecast heuristics work on surface observations; they are coarser than
// the physical models in package estimate.
const (
	solarOptimalTemp    = 25.0
	solarTempLossPerDeg = 0.004
	solarMinTempFactor  = 0.6
	daylightStartHour   = 6
	daylightEndHour     = 18

	windCutIn  = 3.0
	windRated  = 12.0
	windCutOut = 25.0

	hydroBaseEfficiency = 0.7
	hydroPrecipPerMM    = 0.1
	hydroMaxPrecipBoost = 0.3
	hydroSnowmeltTemp   = 10.0
	hydroBoostPerDeg    = 0.01
)

// efficiencyFunc maps one forecast sample to an efficiency factor in [0,1].
type efficiencyFunc func(t time.Time, w models.Observation) float64

func efficiencyFor(source models.Source) (efficiencyFunc, bool) {
	switch source {
	case models.SourceSolar:
		return SolarEfficiency, true
	case models.SourceWind:
		return func(_ time.Time, w models.Observation) float64 { return WindEfficiency(w) }, true
	case models.SourceHydro:
		return func(_ time.Time, w models.Observation) float64 { return HydroEfficiency(w) }, true
	}
	return nil, false
}

// SolarEfficiency combines cloud cover, heat loss above 25°C (floored at 0.6)
// and a half-sine daylight curve between 06:00 and 18:00 local time.
func SolarEfficiency(t time.Time, w models.Observation) float64 {
	cloudFactor := math.Max(0, (100-w.CloudCover)/100)
	tempFactor := math.Max(solarMinTempFactor, 1-math.Max(0, w.Temperature-solarOptimalTemp)*solarTempLossPerDeg)
	return clamp01(cloudFactor * tempFactor * daylightFactor(t.Hour()))
}

func daylightFactor(hour int) float64 {
	if hour < daylightStartHour || hour > daylightEndHour {
		return 0
	}
	span := float64(daylightEndHour - daylightStartHour)
	return math.Sin(math.Pi * float64(hour-daylightStartHour) / span)
}

// WindEfficiency is a cubic ramp from cut-in to rated speed, flat to cut-out,
// zero outside.
func WindEfficiency(w models.Observation) float64 {
	v := w.WindSpeed
	switch {
	case v < windCutIn, v > windCutOut:
		return 0
	case v <= windRated:
		r := v / windRated
		return r * r * r
	default:
		return 1
	}
}

// HydroEfficiency is a base load plus bounded boosts from 3h precipitation
// and snowmelt temperature.
func HydroEfficiency(w models.Observation) float64 {
	precipBoost := math.Min(hydroMaxPrecipBoost, math.Max(0, w.WaterFlow)*hydroPrecipPerMM)
	tempBoost := 0.0
	if w.Temperature > hydroSnowmeltTemp {
		tempBoost = (w.Temperature - hydroSnowmeltTemp) * hydroBoostPerDeg
	}
	return clamp01(hydroBaseEfficiency + precipBoost + tempBoost)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round rounds half away from zero to the given decimal places.
func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
