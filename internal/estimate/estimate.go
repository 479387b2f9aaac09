// Package estimate maps a plant and a weather observation to an instantaneous
// power output in MW using per-source physical approximations.
package estimate

import (
	"math"

	"go.uber.org/zap"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
)

// Solar model constants.
const (
	PanelEfficiency   = 0.22
	TempCoefficient   = -0.004 // per °C of cell temperature above 25
	ReferenceCellTemp = 25.0
	CellHeatingFactor = 0.03 // °C per W/m² of irradiance
	AgeDegradation    = 0.005
	MinAgeDerating    = 0.5
	SoilingDerating   = 0.95
	PeakIrradiance    = 1000.0 // W/m²
)

// Wind model constants.
const (
	CutInSpeed       = 3.0  // m/s at hub
	RatedSpeed       = 15.0 // m/s at hub
	CutOutSpeed      = 25.0 // m/s at hub
	ReferenceHeight  = 10.0 // m, anemometer height
	ShearExponent    = 0.14
	AirDensity       = 1.225 // kg/m³
	PowerCoefficient = 0.4
)

// Hydro model constants.
const (
	WaterDensity     = 1000.0 // kg/m³
	Gravity          = 9.81   // m/s²
	MMPerHourToMS    = 2.78e-7
	BaseFlowFraction = 0.3
)

const wattsPerMW = 1e6

// Estimator computes estimated output, reporting plants whose source has no model.
type Estimator struct {
	logger *zap.Logger
}

// New returns an Estimator. A nil logger discards.
func New(logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{logger: logger}
}

// Estimate returns the plant's output in MW under w, always within
// [0, capacity]. Unknown sources yield 0 and are logged.
func (e *Estimator) Estimate(p models.Plant, w models.Observation) float64 {
	p = p.WithDefaults()
	if !(p.CapacityMW > 0) {
		return 0
	}
	w = sanitize(w)

	switch p.Source {
	case models.SourceSolar:
		return Solar(p, w)
	case models.SourceWind:
		return Wind(p, w)
	case models.SourceHydro:
		return Hydro(p, w)
	default:
		observability.UnknownSourceEstimatesTotal.Inc()
		e.logger.Warn("no output model for energy source",
			zap.Int("plantId", p.ID),
			zap.String("plantName", p.Name),
			zap.String("source", p.SourceCode),
		)
		return 0
	}
}

// sanitize replaces non-finite fields with neutral values and clamps ranges.
func sanitize(w models.Observation) models.Observation {
	n := models.NeutralObservation()
	if !finite(w.Temperature) {
		w.Temperature = n.Temperature
	}
	if !finite(w.WindSpeed) {
		w.WindSpeed = n.WindSpeed
	}
	if !finite(w.WaterFlow) {
		w.WaterFlow = n.WaterFlow
	}
	if !finite(w.CloudCover) {
		w.CloudCover = n.CloudCover
	}
	w.Temperature = clamp(w.Temperature, -60, 60)
	return w.Clamped()
}

// Solar estimates photovoltaic output from cloud cover, air temperature and panel age.
func Solar(p models.Plant, w models.Observation) float64 {
	irradiance := PeakIrradiance * (1 - clamp(w.CloudCover, 0, 100)/100)
	cellTemp := w.Temperature + irradiance*CellHeatingFactor
	tempDerating := clamp(1+TempCoefficient*(cellTemp-ReferenceCellTemp), 0, 1.25)
	ageDerating := clamp(1-math.Max(p.PanelAge, 0)*AgeDegradation, MinAgeDerating, 1)

	out := p.CapacityMW * PanelEfficiency * (irradiance / PeakIrradiance) *
		tempDerating * ageDerating * SoilingDerating
	return clamp(out, 0, p.CapacityMW)
}

// HubSpeed extrapolates surface wind speed to hub height with a power-law profile.
func HubSpeed(surface, hubHeight float64) float64 {
	return surface * math.Pow(hubHeight/ReferenceHeight, ShearExponent)
}

// Wind estimates turbine output from the power curve: zero outside
// [CutInSpeed, CutOutSpeed], rated above RatedSpeed, cubic in between.
func Wind(p models.Plant, w models.Observation) float64 {
	v := HubSpeed(w.WindSpeed, p.HubHeight)
	switch {
	case v < CutInSpeed, v > CutOutSpeed:
		return 0
	case v > RatedSpeed:
		return p.CapacityMW
	}
	radius := p.TurbineDiameter / 2
	sweptArea := math.Pi * radius * radius
	watts := 0.5 * AirDensity * sweptArea * v * v * v * PowerCoefficient
	return clamp(watts/wattsPerMW, 0, p.CapacityMW)
}

// Hydro estimates run-of-river output from precipitation over the catchment.
// Without inflow the plant runs on base flow at BaseFlowFraction of capacity.
func Hydro(p models.Plant, w models.Observation) float64 {
	flow := w.WaterFlow * MMPerHourToMS * p.CatchmentArea // m³/s
	if !(flow > 0) {
		return BaseFlowFraction * p.CapacityMW
	}
	watts := p.TurbineEfficiency * WaterDensity * Gravity * flow * p.Head
	return clamp(watts/wattsPerMW, 0, p.CapacityMW)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
