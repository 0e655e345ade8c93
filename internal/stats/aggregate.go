// Package stats reduces score records into per-category statistics, day
// bucketed trends and student/course comparisons. Every function is pure and
// returns freshly allocated values.
package stats

import "github.com/noah-isme/sma-progress-api/internal/models"

// NewAggregate returns an aggregate with every category zeroed.
func NewAggregate() models.Aggregate {
	agg := make(models.Aggregate, len(models.RecordTypes))
	for _, t := range models.RecordTypes {
		agg[t] = models.CategoryStats{}
	}
	return agg
}

// ComputeStats sums values and counts per category. Records of unknown type
// are ignored; an empty input yields three zeroed categories.
func ComputeStats(records []models.Record) models.Aggregate {
	agg := NewAggregate()
	for _, r := range records {
		s, ok := agg[r.Type]
		if !ok {
			continue
		}
		s.Total += r.Value
		s.Count++
		agg[r.Type] = s
	}
	for t, s := range agg {
		agg[t] = withAverage(s)
	}
	return agg
}

// ComputeStatsBy groups records by key and aggregates each group.
func ComputeStatsBy(records []models.Record, key func(models.Record) string) map[string]models.Aggregate {
	groups := make(map[string][]models.Record)
	for _, r := range records {
		k := key(r)
		groups[k] = append(groups[k], r)
	}
	out := make(map[string]models.Aggregate, len(groups))
	for k, group := range groups {
		out[k] = ComputeStats(group)
	}
	return out
}

// OverallAverage is the mean of the category averages that have data.
func OverallAverage(agg models.Aggregate) float64 {
	var sum float64
	var n int
	for _, t := range models.RecordTypes {
		s := agg.Get(t)
		if s.Count == 0 {
			continue
		}
		sum += s.Average
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// RecordCount totals the counts of every category.
func RecordCount(agg models.Aggregate) int {
	var n int
	for _, t := range models.RecordTypes {
		n += agg.Get(t).Count
	}
	return n
}

func withAverage(s models.CategoryStats) models.CategoryStats {
	if s.Count > 0 {
		s.Average = float64(s.Total) / float64(s.Count)
	} else {
		s.Average = 0
	}
	return s
}
