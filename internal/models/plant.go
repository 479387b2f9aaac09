package models

import (
	"encoding/json"
	"math"
	"strings"
)

// Source is the energy source category of a plant.
type Source string

const (
	SourceSolar Source = "solar"
	SourceWind  Source = "wind"
	SourceHydro Source = "hydro"
	SourceOther Source = "other"
)

// ParseSource maps dataset codes (SUN, WND, WAT) and free-form names to a Source.
func ParseSource(s string) Source {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "sun":
		return SourceSolar
	case "wnd":
		return SourceWind
	case "wat":
		return SourceHydro
	}
	switch {
	case strings.Contains(v, "solar"):
		return SourceSolar
	case strings.Contains(v, "wind"):
		return SourceWind
	case strings.Contains(v, "hydro"), strings.Contains(v, "water"):
		return SourceHydro
	}
	return SourceOther
}

// Physical parameter defaults applied when a dataset row leaves them blank.
const (
	DefaultPanelAge          = 0.0
	DefaultTurbineDiameter   = 80.0  // m
	DefaultHubHeight         = 100.0 // m
	DefaultHead              = 50.0  // m
	DefaultTurbineEfficiency = 0.9
	DefaultCatchmentArea     = 1e6 // m²
)

// Plant is one power plant row from the dataset.
type Plant struct {
	ID         int     `json:"id"`
	Name       string  `json:"plant_name"`
	Owner      string  `json:"owner,omitempty"`
	Region     string  `json:"region,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	SourceCode string  `json:"energy_source_code"`
	Source     Source  `json:"energy_source"`
	CapacityMW float64 `json:"capacity_mw"`

	PanelAge          float64 `json:"panel_age"`
	TurbineDiameter   float64 `json:"turbine_diameter"`
	HubHeight         float64 `json:"hub_height"`
	Head              float64 `json:"head"`
	TurbineEfficiency float64 `json:"turbine_efficiency"`
	CatchmentArea     float64 `json:"catchment_area"`

	// Set once the plant has been augmented with weather.
	Weather         *Observation `json:"weather,omitempty"`
	EstimatedOutput *float64     `json:"estimated_output,omitempty"`
}

// WithDefaults fills zero-valued physical parameters and clamps capacity to >= 0.
func (p Plant) WithDefaults() Plant {
	if p.CapacityMW < 0 {
		p.CapacityMW = 0
	}
	if p.PanelAge < 0 {
		p.PanelAge = DefaultPanelAge
	}
	if p.TurbineDiameter <= 0 {
		p.TurbineDiameter = DefaultTurbineDiameter
	}
	if p.HubHeight <= 0 {
		p.HubHeight = DefaultHubHeight
	}
	if p.Head <= 0 {
		p.Head = DefaultHead
	}
	if p.TurbineEfficiency <= 0 || p.TurbineEfficiency > 1 {
		p.TurbineEfficiency = DefaultTurbineEfficiency
	}
	if p.CatchmentArea <= 0 {
		p.CatchmentArea = DefaultCatchmentArea
	}
	if p.Source == "" {
		p.Source = ParseSource(p.SourceCode)
	}
	return p
}

// MarshalJSON renders unknown (NaN) coordinates as null.
func (p Plant) MarshalJSON() ([]byte, error) {
	type plain Plant
	return json.Marshal(struct {
		plain
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}{
		plain:     plain(p),
		Latitude:  finiteOrNil(p.Latitude),
		Longitude: finiteOrNil(p.Longitude),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
