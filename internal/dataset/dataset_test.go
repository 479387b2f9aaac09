package dataset

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
)

const sampleCSV = `PlantName,PriEnergySource,Capacity_Latest,x,y,county,HubHeight,Notes
Sunny Flats,SUN,50,-119.5,37.5,Kern,,first
Windy Ridge,WND,120,-118.2,35.1,Kern,80,
Dry Creek,WAT,10,,,Inyo,,"quoted, note"
`

func TestParse(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(d.Plants) != 3 {
		t.Fatalf("plants = %d, want 3", len(d.Plants))
	}
	if d.Augmented {
		t.Error("raw dataset reported as augmented")
	}

	sun := d.Plants[0]
	if sun.ID != 0 || sun.Source != models.SourceSolar || sun.CapacityMW != 50 || sun.Latitude != 37.5 || sun.Longitude != -119.5 {
		t.Errorf("plant 0 = %+v", sun)
	}
	if sun.HubHeight != models.DefaultHubHeight {
		t.Errorf("blank HubHeight = %v, want default", sun.HubHeight)
	}
	if d.Plants[1].HubHeight != 80 || d.Plants[1].Region != "Kern" {
		t.Errorf("plant 1 = %+v", d.Plants[1])
	}
	if !math.IsNaN(d.Plants[2].Latitude) {
		t.Errorf("blank latitude = %v, want NaN", d.Plants[2].Latitude)
	}
	if got := d.Regions(); len(got) != 2 || got[0] != "Kern" || got[1] != "Inyo" {
		t.Errorf("Regions() = %v", got)
	}
}

func TestParse_MissingColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("PlantName,Capacity_Latest,x\nA,1,2\n"))
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("error = %v, want ErrMissingColumns", err)
	}
	for _, col := range []string{ColSource, ColLatitude} {
		if !strings.Contains(err.Error(), col) {
			t.Errorf("error %q does not name %s", err, col)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir() + "/nope.csv")
	if !errors.Is(err, ErrLoadDataset) {
		t.Fatalf("error = %v, want ErrLoadDataset", err)
	}
}

func TestAugment_RoundTrip(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	obs := []models.Observation{
		{Temperature: 20, WindSpeed: 3, CloudCover: 10},
		{Temperature: 12.5, WindSpeed: 9.25, CloudCover: 75},
		models.NeutralObservation(),
	}
	aug, err := d.Augment(obs, []float64{9.5, 120, 3})
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if d.Plants[0].Weather != nil {
		t.Error("Augment mutated the source dataset")
	}

	data, err := aug.Encode()
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(data), "\n")
	wantHeader := "PlantName,PriEnergySource,Capacity_Latest,x,y,county,HubHeight,Notes,temperature,wind_speed,water_flow,cloud_cover,estimated_output"
	if lines[0] != wantHeader {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[3], `"quoted, note"`) {
		t.Errorf("row 3 lost quoting: %q", lines[3])
	}

	back, err := Parse(strings.NewReader(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if !back.Augmented {
		t.Fatal("reparsed dataset not augmented")
	}
	p := back.Plants[1]
	if *p.Weather != obs[1] || *p.EstimatedOutput != 120 {
		t.Errorf("plant 1 weather = %+v, output = %v", *p.Weather, *p.EstimatedOutput)
	}

	again, err := back.Augment(obs, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Header) != len(aug.Header) {
		t.Errorf("re-augmenting added columns: %v", again.Header)
	}
}

func TestAugment_LengthMismatch(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Augment(nil, nil); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}
