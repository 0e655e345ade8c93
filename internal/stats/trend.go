package stats

import (
	"fmt"
	"time"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

// DateLayout is the calendar key of trend buckets.
const DateLayout = "2006-01-02"

type dayBucket struct {
	total int
	count int
}

// ComputeTrend buckets the records of the last days into calendar days of
// now's location, oldest first. Each category always receives exactly days
// points; days without records carry a zero value.
func ComputeTrend(records []models.Record, days int, now time.Time) (models.TrendSeries, error) {
	if days <= 0 {
		return models.TrendSeries{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("days must be at least 1, got %d", days))
	}

	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	first := today.AddDate(0, 0, -(days - 1))
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	dates := make([]string, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		key := first.AddDate(0, 0, i).Format(DateLayout)
		dates[i] = key
		index[key] = i
	}

	buckets := make(map[models.RecordType][]dayBucket, len(models.RecordTypes))
	for _, t := range models.RecordTypes {
		buckets[t] = make([]dayBucket, days)
	}

	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		series, ok := buckets[r.Type]
		if !ok {
			continue
		}
		i, ok := index[r.Timestamp.In(loc).Format(DateLayout)]
		if !ok {
			continue
		}
		series[i].total += r.Value
		series[i].count++
	}

	out := models.TrendSeries{
		Days:   days,
		From:   dates[0],
		To:     dates[days-1],
		Series: make(map[models.RecordType][]models.TrendPoint, len(models.RecordTypes)),
	}
	for _, t := range models.RecordTypes {
		points := make([]models.TrendPoint, days)
		for i, b := range buckets[t] {
			points[i] = models.TrendPoint{Date: dates[i], Count: b.count}
			if b.count > 0 {
				points[i].Value = float64(b.total) / float64(b.count)
			}
		}
		out.Series[t] = points
	}
	return out, nil
}
