package stats

import (
	"math"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

// InLineThreshold is the smallest absolute difference that is no longer
// considered in line with the course.
const InLineThreshold = 0.2

// Compare classifies each category of a student aggregate against the course
// aggregate.
func Compare(student, course models.Aggregate) models.ComparisonReport {
	report := make(models.ComparisonReport, len(models.RecordTypes))
	for _, t := range models.RecordTypes {
		s := student.Get(t)
		c := course.Get(t)
		diff := s.Average - c.Average
		report[t] = models.Comparison{
			StudentAverage: s.Average,
			CourseAverage:  c.Average,
			Difference:     diff,
			Status:         Classify(s.Average, c.Average),
			StudentRecords: s.Count,
		}
	}
	return report
}

// Classify maps a pair of averages to a comparison status.
func Classify(studentAvg, courseAvg float64) models.ComparisonStatus {
	if studentAvg == 0 || courseAvg == 0 {
		return models.ComparisonInsufficientData
	}
	diff := studentAvg - courseAvg
	switch {
	case math.Abs(diff) < InLineThreshold:
		return models.ComparisonInLine
	case diff > 0:
		return models.ComparisonAboveAverage
	default:
		return models.ComparisonNeedsSupport
	}
}
