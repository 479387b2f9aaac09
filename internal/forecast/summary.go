package forecast

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
)

const (
	// DefaultWindowSize is the number of consecutive samples per fluctuation window.
	DefaultWindowSize = 6
	// DefaultFluctuationThreshold is the coefficient of variation that raises an alert.
	DefaultFluctuationThreshold = 0.3
	// HighSeverityThreshold separates high from medium alerts.
	HighSeverityThreshold = 0.5
	// cvEpsilon keeps the coefficient of variation finite for all-zero windows.
	cvEpsilon = 0.1

	dateLayout = "2006-01-02"
)

const (
	recommendBackup  = "Consider activating backup power sources and energy storage systems"
	recommendMonitor = "Monitor grid stability and prepare load balancing measures"
	recommendNormal  = "Moderate fluctuation expected - standard grid management sufficient"
)

// popStdDev is the population standard deviation.
func popStdDev(x []float64) (mean, std float64) {
	mean, variance := stat.PopMeanVariance(x, nil)
	return mean, math.Sqrt(variance)
}

type dayGroup struct {
	date    string
	outputs []float64
}

// groupByDate buckets values by the calendar date of their timestamp in its
// own location and returns the groups in ascending date order.
func groupByDate(n int, at func(i int) (time.Time, float64)) []dayGroup {
	index := make(map[string]int)
	var groups []dayGroup
	for i := 0; i < n; i++ {
		t, v := at(i)
		d := t.Format(dateLayout)
		gi, ok := index[d]
		if !ok {
			gi = len(groups)
			index[d] = gi
			groups = append(groups, dayGroup{date: d})
		}
		groups[gi].outputs = append(groups[gi].outputs, v)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].date < groups[j].date })
	return groups
}

// DailySummaries groups predictions by calendar date and reports total,
// mean, peak, minimum and population standard deviation of output.
func DailySummaries(points []models.PredictionPoint) []models.DailySummary {
	groups := groupByDate(len(points), func(i int) (time.Time, float64) {
		return points[i].Timestamp, points[i].PredictedOutputMW
	})
	out := make([]models.DailySummary, 0, len(groups))
	for _, g := range groups {
		mean, std := popStdDev(g.outputs)
		out = append(out, models.DailySummary{
			Date:            g.date,
			TotalOutputMWh:  round(floats.Sum(g.outputs), 2),
			AverageOutputMW: round(mean, 2),
			PeakOutputMW:    round(floats.Max(g.outputs), 2),
			MinOutputMW:     round(floats.Min(g.outputs), 2),
			Variability:     round(std, 2),
		})
	}
	return out
}

// CoefficientOfVariation is std/(mean+0.1) over a window of outputs.
func CoefficientOfVariation(window []float64) float64 {
	mean, std := popStdDev(window)
	return std / (mean + cvEpsilon)
}

// DetectFluctuations slides a window of size consecutive samples across points
// and raises an alert for every window whose coefficient of variation exceeds
// threshold. Severity is high above HighSeverityThreshold. Fewer than size
// points yield no alerts.
func DetectFluctuations(points []models.PredictionPoint, size int, threshold float64) []models.FluctuationAlert {
	if size <= 0 {
		size = DefaultWindowSize
	}
	alerts := []models.FluctuationAlert{}
	if len(points) < size {
		return alerts
	}
	outputs := make([]float64, len(points))
	for i, p := range points {
		outputs[i] = p.PredictedOutputMW
	}
	for i := 0; i+size <= len(outputs); i++ {
		cv := CoefficientOfVariation(outputs[i : i+size])
		if !(cv > threshold) {
			continue
		}
		severity := models.SeverityMedium
		if cv > HighSeverityThreshold {
			severity = models.SeverityHigh
		}
		alerts = append(alerts, models.FluctuationAlert{
			StartTime:        points[i].Timestamp,
			EndTime:          points[i+size-1].Timestamp,
			VariabilityScore: round(cv, 3),
			Severity:         severity,
			Recommendation:   fluctuationRecommendation(cv),
		})
	}
	return alerts
}

func fluctuationRecommendation(cv float64) string {
	switch {
	case cv > 0.7:
		return recommendBackup
	case cv > HighSeverityThreshold:
		return recommendMonitor
	default:
		return recommendNormal
	}
}

// AlignmentStep is the provider's forecast granularity; regional samples are
// bucketed to the nearest step.
const AlignmentStep = 3 * time.Hour

// AggregateRegional sums plant outputs per aligned timestamp. Each timestamp
// is the union of all plants' samples snapped to the nearest 3-hour UTC grid
// point; a plant contributes at most once per bucket. Utilization is relative
// to totalCapacity. Timestamps are presented in loc.
func AggregateRegional(forecasts []models.PlantForecast, totalCapacity float64, loc *time.Location) models.RegionalSummary {
	if loc == nil {
		loc = time.UTC
	}
	type bucket struct {
		total  float64
		plants int
	}
	buckets := make(map[int64]*bucket)
	for _, f := range forecasts {
		seen := make(map[int64]bool, len(f.Predictions))
		for _, p := range f.Predictions {
			key := p.Timestamp.UTC().Round(AlignmentStep).Unix()
			if seen[key] {
				continue
			}
			seen[key] = true
			b, ok := buckets[key]
			if !ok {
				b = &bucket{}
				buckets[key] = b
			}
			b.total += p.PredictedOutputMW
			b.plants++
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	summary := models.RegionalSummary{Points: make([]models.RegionalPoint, 0, len(keys))}
	utilizations := make([]float64, 0, len(keys))
	totals := make([]float64, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		util := 0.0
		if totalCapacity > 0 {
			util = round(b.total/totalCapacity*100, 1)
		}
		total := round(b.total, 2)
		summary.Points = append(summary.Points, models.RegionalPoint{
			Timestamp:           time.Unix(k, 0).In(loc),
			TotalOutputMW:       total,
			CapacityUtilization: util,
			PlantCount:          b.plants,
		})
		totals = append(totals, total)
		utilizations = append(utilizations, util)
	}
	if len(totals) == 0 {
		summary.DailySummaries = []models.RegionalDailySummary{}
		return summary
	}

	summary.DailySummaries = regionalDailySummaries(summary.Points)
	summary.PeakRegionalOutput = floats.Max(totals)
	summary.AverageCapacityUtilization = round(stat.Mean(utilizations, nil), 1)
	return summary
}

func regionalDailySummaries(points []models.RegionalPoint) []models.RegionalDailySummary {
	groups := groupByDate(len(points), func(i int) (time.Time, float64) {
		return points[i].Timestamp, points[i].TotalOutputMW
	})
	out := make([]models.RegionalDailySummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.RegionalDailySummary{
			Date:               g.date,
			TotalProductionMWh: round(floats.Sum(g.outputs), 2),
			AverageOutputMW:    round(stat.Mean(g.outputs, nil), 2),
			PeakOutputMW:       round(floats.Max(g.outputs), 2),
		})
	}
	return out
}

// Recommendation types.
const (
	RecommendHighProduction  = "high_production"
	RecommendHighVariability = "high_variability"
	RecommendLowProduction   = "low_production"
)

// Recommend derives operational hints per day from daily summaries. Days with
// no applicable hint are omitted.
func Recommend(summaries []models.DailySummary) []models.DayRecommendations {
	out := []models.DayRecommendations{}
	for _, d := range summaries {
		var recs []models.Recommendation
		if d.PeakOutputMW > d.AverageOutputMW*1.5 {
			recs = append(recs, models.Recommendation{
				Type:     RecommendHighProduction,
				Message:  "Excellent conditions for energy production. Consider energy-intensive operations.",
				Priority: models.SeverityMedium,
			})
		}
		if d.Variability > d.AverageOutputMW*0.3 {
			recs = append(recs, models.Recommendation{
				Type:     RecommendHighVariability,
				Message:  "High fluctuation expected. Ensure backup systems are ready.",
				Priority: models.SeverityHigh,
			})
		}
		if d.PeakOutputMW < d.AverageOutputMW*0.7 {
			recs = append(recs, models.Recommendation{
				Type:     RecommendLowProduction,
				Message:  "Lower than average production expected. Plan accordingly.",
				Priority: models.SeverityMedium,
			})
		}
		if len(recs) > 0 {
			out = append(out, models.DayRecommendations{Date: d.Date, Recommendations: recs})
		}
	}
	return out
}
