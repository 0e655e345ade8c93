package models

import "time"

// CategoryStats is the running total, count and derived average of one category.
type CategoryStats struct {
	Total   int     `json:"total"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Aggregate maps each category to its statistics. Aggregates produced by the
// stats package always carry all three categories.
type Aggregate map[RecordType]CategoryStats

// Get returns the statistics for t, zeroed when absent.
func (a Aggregate) Get(t RecordType) CategoryStats {
	if a == nil {
		return CategoryStats{}
	}
	return a[t]
}

// TrendPoint is one calendar day of a trend series.
type TrendPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// TrendSeries holds per-category day buckets, oldest first. Every category
// has exactly Days points.
type TrendSeries struct {
	Days   int                         `json:"days"`
	From   string                      `json:"from"`
	To     string                      `json:"to"`
	Series map[RecordType][]TrendPoint `json:"series"`
}

// ComparisonStatus classifies a student's category average against the course.
type ComparisonStatus string

const (
	ComparisonInsufficientData ComparisonStatus = "insufficient-data"
	ComparisonInLine           ComparisonStatus = "in-line"
	ComparisonAboveAverage     ComparisonStatus = "above-average"
	ComparisonNeedsSupport     ComparisonStatus = "needs-support"
)

// Comparison is the outcome for one category.
type Comparison struct {
	StudentAverage float64          `json:"student_average"`
	CourseAverage  float64          `json:"course_average"`
	Difference     float64          `json:"difference"`
	Status         ComparisonStatus `json:"status"`
	StudentRecords int              `json:"student_records"`
}

// ComparisonReport maps every category to its comparison.
type ComparisonReport map[RecordType]Comparison

// StatsScope identifies what a statistics snapshot was computed over.
type StatsScope string

const (
	ScopeGlobal          StatsScope = "global"
	ScopeCourse          StatsScope = "course"
	ScopeStudent         StatsScope = "student"
	ScopeStudentInCourse StatsScope = "student_course"
)

// StatsSnapshot is a one-shot statistics read.
type StatsSnapshot struct {
	Scope          StatsScope `json:"scope"`
	StudentID      string     `json:"student_id,omitempty"`
	CourseID       string     `json:"course_id,omitempty"`
	Stats          Aggregate  `json:"stats"`
	OverallAverage float64    `json:"overall_average"`
	RecordCount    int        `json:"record_count"`
	ComputedAt     time.Time  `json:"computed_at"`
}

// ComparativeStats is the parent-facing comparison of a student with the course.
type ComparativeStats struct {
	StudentID  string           `json:"student_id"`
	CourseID   string           `json:"course_id"`
	CourseName string           `json:"course_name,omitempty"`
	Student    Aggregate        `json:"student"`
	Course     Aggregate        `json:"course"`
	Comparison ComparisonReport `json:"comparison"`
	ComputedAt time.Time        `json:"computed_at"`
}

// CourseSummary is a course row of the teacher dashboard.
type CourseSummary struct {
	Course         Course    `json:"course"`
	Stats          Aggregate `json:"stats"`
	OverallAverage float64   `json:"overall_average"`
	StudentCount   int       `json:"student_count"`
}

// StudentSummary aggregates a student's progress in each enrolled course.
type StudentSummary struct {
	Student        Student              `json:"student"`
	Overall        Aggregate            `json:"overall"`
	OverallAverage float64              `json:"overall_average"`
	Courses        map[string]Aggregate `json:"courses"`
	LastRecordAt   *time.Time           `json:"last_record_at,omitempty"`
}

// LiveUpdate is pushed to live subscribers on every change of their record set.
type LiveUpdate struct {
	Filter  RecordFilter `json:"filter"`
	Records []Record     `json:"records"`
	Stats   Aggregate    `json:"stats"`
	Trend   *TrendSeries `json:"trend,omitempty"`
	At      time.Time    `json:"at"`
}

// SystemMetrics represents instrumentation snapshots for the admin API.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	LiveSubscriptions        int64     `json:"live_subscriptions"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
