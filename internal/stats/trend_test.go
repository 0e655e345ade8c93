package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

func TestComputeTrendZeroFilled(t *testing.T) {
	now := time.Date(2024, time.March, 10, 15, 0, 0, 0, time.UTC)

	series, err := ComputeTrend(nil, 7, now)
	require.NoError(t, err)

	assert.Equal(t, 7, series.Days)
	assert.Equal(t, "2024-03-04", series.From)
	assert.Equal(t, "2024-03-10", series.To)
	require.Len(t, series.Series, 3)
	for _, rt := range models.RecordTypes {
		points := series.Series[rt]
		require.Len(t, points, 7)
		assert.Equal(t, "2024-03-04", points[0].Date)
		assert.Equal(t, "2024-03-10", points[6].Date)
		for _, p := range points {
			assert.Zero(t, p.Value)
			assert.Zero(t, p.Count)
		}
	}
}

func TestComputeTrendBucketsByDay(t *testing.T) {
	now := time.Date(2024, time.March, 10, 15, 0, 0, 0, time.UTC)
	records := []models.Record{
		{Type: models.RecordParticipation, Value: 4, Timestamp: now.Add(-1 * time.Hour)},
		{Type: models.RecordParticipation, Value: 2, Timestamp: now.Add(-2 * time.Hour)},
		{Type: models.RecordBehavior, Value: 5, Timestamp: now.AddDate(0, 0, -2)},
		{Type: models.RecordPunctuality, Value: 1, Timestamp: now.AddDate(0, 0, -30)},
	}

	series, err := ComputeTrend(records, 3, now)
	require.NoError(t, err)

	participation := series.Series[models.RecordParticipation]
	assert.Equal(t, models.TrendPoint{Date: "2024-03-10", Value: 3, Count: 2}, participation[2])
	assert.Equal(t, models.TrendPoint{Date: "2024-03-08", Value: 5, Count: 1}, series.Series[models.RecordBehavior][0])
	for _, p := range series.Series[models.RecordPunctuality] {
		assert.Zero(t, p.Count)
	}
}

func TestComputeTrendUsesLocalCalendarDays(t *testing.T) {
	loc := time.FixedZone("CLT", -4*60*60)
	now := time.Date(2024, time.March, 10, 10, 0, 0, 0, loc)
	// 02:00 UTC on the 10th is still the 9th in local time.
	late := time.Date(2024, time.March, 10, 2, 0, 0, 0, time.UTC)

	series, err := ComputeTrend([]models.Record{{Type: models.RecordBehavior, Value: 3, Timestamp: late}}, 2, now)
	require.NoError(t, err)

	points := series.Series[models.RecordBehavior]
	assert.Equal(t, "2024-03-09", points[0].Date)
	assert.Equal(t, 1, points[0].Count)
	assert.Zero(t, points[1].Count)
}

func TestComputeTrendSingleDay(t *testing.T) {
	now := time.Date(2024, time.March, 10, 0, 30, 0, 0, time.UTC)
	records := []models.Record{
		{Type: models.RecordParticipation, Value: 5, Timestamp: now.Add(-10 * time.Minute)},
		{Type: models.RecordParticipation, Value: 1, Timestamp: now.Add(-2 * time.Hour)},
	}

	series, err := ComputeTrend(records, 1, now)
	require.NoError(t, err)
	assert.Equal(t, []models.TrendPoint{{Date: "2024-03-10", Value: 5, Count: 1}}, series.Series[models.RecordParticipation])
}

func TestComputeTrendRejectsNonPositiveDays(t *testing.T) {
	for _, days := range []int{0, -3} {
		_, err := ComputeTrend(nil, days, time.Now())
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	}
}
