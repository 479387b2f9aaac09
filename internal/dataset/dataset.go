// Package dataset loads the plant dataset, augments it with current weather
// and estimated output, and persists the augmented copy.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
)

var (
	// ErrMissingColumns is returned when the input lacks a required column.
	ErrMissingColumns = errors.New("dataset missing required columns")
	// ErrLoadDataset is returned when the dataset file cannot be read or parsed.
	ErrLoadDataset = errors.New("failed to load dataset")
)

// Input column names.
const (
	ColName            = "PlantName"
	ColSource          = "PriEnergySource"
	ColCapacity        = "Capacity_Latest"
	ColLongitude       = "x"
	ColLatitude        = "y"
	ColOwner           = "Owner"
	ColRegion          = "county"
	ColAge             = "Age"
	ColTurbineDiameter = "TurbineDiameter"
	ColHubHeight       = "HubHeight"
	ColHead            = "Head"
	ColEfficiency      = "Efficiency"
	ColCatchmentArea   = "CatchmentArea"
)

// Augmentation column names, appended in this order.
const (
	ColTemperature     = "temperature"
	ColWindSpeed       = "wind_speed"
	ColWaterFlow       = "water_flow"
	ColCloudCover      = "cloud_cover"
	ColEstimatedOutput = "estimated_output"
)

// RequiredColumns must all be present in an input dataset.
var RequiredColumns = []string{ColName, ColSource, ColCapacity, ColLongitude, ColLatitude}

var augmentColumns = []string{ColTemperature, ColWindSpeed, ColWaterFlow, ColCloudCover, ColEstimatedOutput}

// Dataset is a loaded plant table. Header and Records hold the raw cells so
// unknown columns survive a rewrite.
type Dataset struct {
	Header  []string
	Records [][]string
	Plants  []models.Plant
	// Augmented reports whether every plant carries weather and an estimate.
	Augmented bool

	index map[string]int
}

// HasColumn reports whether the dataset has the named column.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Load reads and parses a CSV dataset file.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadDataset, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV dataset. Plant IDs are zero-based row indices.
func Parse(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadDataset, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrLoadDataset)
	}

	d := &Dataset{Header: rows[0], Records: rows[1:], index: make(map[string]int)}
	for i, h := range d.Header {
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		d.Header[i] = h
		if _, dup := d.index[h]; !dup {
			d.index[h] = i
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if !d.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	d.Augmented = len(d.Records) > 0
	for _, c := range augmentColumns {
		if !d.HasColumn(c) {
			d.Augmented = false
		}
	}

	d.Plants = make([]models.Plant, len(d.Records))
	for i, rec := range d.Records {
		d.Plants[i] = d.plant(i, rec)
	}
	return d, nil
}

func (d *Dataset) cell(rec []string, col string) string {
	i, ok := d.index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// number parses a cell, returning def for blank or malformed values.
func (d *Dataset) number(rec []string, col string, def float64) float64 {
	s := d.cell(rec, col)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func (d *Dataset) plant(id int, rec []string) models.Plant {
	code := d.cell(rec, ColSource)
	p := models.Plant{
		ID:                id,
		Name:              d.cell(rec, ColName),
		Owner:             d.cell(rec, ColOwner),
		Region:            d.cell(rec, ColRegion),
		Latitude:          d.number(rec, ColLatitude, math.NaN()),
		Longitude:         d.number(rec, ColLongitude, math.NaN()),
		SourceCode:        code,
		Source:            models.ParseSource(code),
		CapacityMW:        d.number(rec, ColCapacity, 0),
		PanelAge:          d.number(rec, ColAge, 0),
		TurbineDiameter:   d.number(rec, ColTurbineDiameter, 0),
		HubHeight:         d.number(rec, ColHubHeight, 0),
		Head:              d.number(rec, ColHead, 0),
		TurbineEfficiency: d.number(rec, ColEfficiency, 0),
		CatchmentArea:     d.number(rec, ColCatchmentArea, 0),
	}
	p = p.WithDefaults()

	if d.Augmented {
		w := models.Observation{
			Temperature: d.number(rec, ColTemperature, 0),
			WindSpeed:   d.number(rec, ColWindSpeed, 0),
			WaterFlow:   d.number(rec, ColWaterFlow, 0),
			CloudCover:  d.number(rec, ColCloudCover, 0),
		}
		out := d.number(rec, ColEstimatedOutput, 0)
		p.Weather = &w
		p.EstimatedOutput = &out
	}
	return p
}

// Augment returns a copy of d with weather and estimates set on every plant
// and the augmentation columns filled. obs and outputs are matched to plants
// by position.
func (d *Dataset) Augment(obs []models.Observation, outputs []float64) (*Dataset, error) {
	if len(obs) != len(d.Plants) || len(outputs) != len(d.Plants) {
		return nil, fmt.Errorf("augment: %d plants, %d observations, %d estimates", len(d.Plants), len(obs), len(outputs))
	}

	out := &Dataset{
		Header:    append([]string(nil), d.Header...),
		Records:   make([][]string, len(d.Records)),
		Plants:    make([]models.Plant, len(d.Plants)),
		Augmented: true,
		index:     make(map[string]int, len(d.index)+len(augmentColumns)),
	}
	for k, v := range d.index {
		out.index[k] = v
	}
	for _, c := range augmentColumns {
		if !out.HasColumn(c) {
			out.index[c] = len(out.Header)
			out.Header = append(out.Header, c)
		}
	}

	for i, rec := range d.Records {
		row := make([]string, len(out.Header))
		copy(row, rec)
		w := obs[i]
		est := outputs[i]
		row[out.index[ColTemperature]] = formatFloat(w.Temperature)
		row[out.index[ColWindSpeed]] = formatFloat(w.WindSpeed)
		row[out.index[ColWaterFlow]] = formatFloat(w.WaterFlow)
		row[out.index[ColCloudCover]] = formatFloat(w.CloudCover)
		row[out.index[ColEstimatedOutput]] = formatFloat(est)
		out.Records[i] = row

		p := d.Plants[i]
		p.Weather = &w
		p.EstimatedOutput = &est
		out.Plants[i] = p
	}
	return out, nil
}

// Encode renders the dataset as CSV.
func (d *Dataset) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(d.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(d.Records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Regions returns the distinct non-empty region names in dataset order.
func (d *Dataset) Regions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range d.Plants {
		if p.Region == "" || seen[p.Region] {
			continue
		}
		seen[p.Region] = true
		out = append(out, p.Region)
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
