package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/stats"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
	"github.com/noah-isme/sma-progress-api/pkg/jobs"
)

const (
	statsCachePrefix  = "stats"
	// Generation counters must outlive every snapshot they version.
	minGenerationTTL  = 24 * time.Hour
	invalidateTimeout = 2 * time.Second
)

type recordLister interface {
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// StatsServiceConfig tunes statistics reads.
type StatsServiceConfig struct {
	CacheTTL         time.Duration
	DefaultTrendDays int
	MaxTrendDays     int
}

// StatsService computes one-shot statistics over stored records. Snapshots are
// cached in Redis under a per-scope generation; a record change bumps the
// generation of every scope it touches, so a snapshot computed before the
// change can never be served after it.
type StatsService struct {
	records recordLister
	cache   *CacheService
	queue   jobEnqueuer
	metrics *MetricsService
	logger  *zap.Logger
	cfg     StatsServiceConfig
	genTTL  time.Duration
	now     func() time.Time
}

// NewStatsService constructs a statistics service. cache and queue may be nil.
func NewStatsService(records recordLister, cache *CacheService, queue jobEnqueuer, metrics *MetricsService, logger *zap.Logger, cfg StatsServiceConfig) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTrendDays <= 0 {
		cfg.DefaultTrendDays = 30
	}
	if cfg.MaxTrendDays <= 0 {
		cfg.MaxTrendDays = 365
	}
	genTTL := minGenerationTTL
	if 2*cfg.CacheTTL > genTTL {
		genTTL = 2 * cfg.CacheTTL
	}
	return &StatsService{records: records, cache: cache, queue: queue, metrics: metrics, logger: logger, cfg: cfg, genTTL: genTTL, now: time.Now}
}

// SetQueue attaches the queue that retries failed invalidations.
func (s *StatsService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Student returns the aggregate of a student across all courses.
func (s *StatsService) Student(ctx context.Context, studentID string) (*models.StatsSnapshot, bool, error) {
	return s.snapshot(ctx, models.ScopeStudent, models.ByStudent(studentID))
}

// StudentInCourse returns the aggregate of a student within one course.
func (s *StatsService) StudentInCourse(ctx context.Context, studentID, courseID string) (*models.StatsSnapshot, bool, error) {
	return s.snapshot(ctx, models.ScopeStudentInCourse, models.ByStudentAndCourse(studentID, courseID))
}

// Course returns the aggregate of every record in a course.
func (s *StatsService) Course(ctx context.Context, courseID string) (*models.StatsSnapshot, bool, error) {
	return s.snapshot(ctx, models.ScopeCourse, models.ByCourse(courseID))
}

// Global returns the institution wide aggregate.
func (s *StatsService) Global(ctx context.Context) (*models.StatsSnapshot, bool, error) {
	return s.snapshot(ctx, models.ScopeGlobal, models.RecordFilter{})
}

// Compare classifies a student against the course average per category.
func (s *StatsService) Compare(ctx context.Context, studentID, courseID string) (*models.ComparativeStats, error) {
	if studentID == "" || courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id and course_id are required")
	}
	course, _, err := s.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	student, _, err := s.StudentInCourse(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	return &models.ComparativeStats{
		StudentID:  studentID,
		CourseID:   courseID,
		Student:    student.Stats,
		Course:     course.Stats,
		Comparison: stats.Compare(student.Stats, course.Stats),
		ComputedAt: s.now().UTC(),
	}, nil
}

// Trend returns the daily averages of the records matching filter. A days
// value of zero selects the configured default.
func (s *StatsService) Trend(ctx context.Context, filter models.RecordFilter, days int) (*models.TrendSeries, error) {
	if days == 0 {
		days = s.cfg.DefaultTrendDays
	}
	if days < 0 || days > s.cfg.MaxTrendDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("days must be between 1 and %d", s.cfg.MaxTrendDays))
	}
	now := s.now()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	filter.Since = &since

	start := time.Now()
	records, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}
	s.metrics.ObserveDBQuery("stats_trend", time.Since(start))

	series, err := stats.ComputeTrend(records, days, now)
	if err != nil {
		return nil, err
	}
	return &series, nil
}

// Invalidate bumps the generation of every cached scope that covers change.
// It runs inline so the next read after a write misses; bumps that fail are
// handed to the queue for retry.
func (s *StatsService) Invalidate(change models.RecordChange) {
	if !s.cache.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	failed := s.bump(ctx, generationKeys(change))
	if len(failed) == 0 {
		return
	}
	if s.queue == nil {
		s.logger.Warn("stats cache invalidation failed", zap.Strings("keys", failed))
		return
	}
	job := jobs.Job{
		ID:      "stats:" + change.StudentID + ":" + change.CourseID,
		Type:    "stats.invalidate",
		Payload: failed,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("enqueue stats invalidation failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// HandleInvalidation is the jobs.Handler that retries failed generation bumps.
func (s *StatsService) HandleInvalidation(ctx context.Context, job jobs.Job) error {
	keys, ok := job.Payload.([]string)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	if failed := s.bump(ctx, keys); len(failed) > 0 {
		return fmt.Errorf("bump stats generations %v", failed)
	}
	return nil
}

func (s *StatsService) bump(ctx context.Context, keys []string) []string {
	var failed []string
	for _, key := range keys {
		if err := s.cache.Bump(ctx, key, s.genTTL); err != nil {
			failed = append(failed, key)
		}
	}
	return failed
}

// Flush drops every cached snapshot. Generation counters are kept so a read
// that is still in flight cannot store under a current generation.
func (s *StatsService) Flush(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx, statsCachePrefix+":snap:*"); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flush statistics cache")
	}
	return nil
}

func (s *StatsService) snapshot(ctx context.Context, scope models.StatsScope, filter models.RecordFilter) (*models.StatsSnapshot, bool, error) {
	gen, err := s.cache.Generation(ctx, generationKey(filter))
	cacheable := err == nil
	if err != nil {
		s.logger.Warn("stats cache generation read failed", zap.String("scope", filter.String()), zap.Error(err))
	}
	key := statsCacheKey(filter, gen)
	if cacheable {
		var cached models.StatsSnapshot
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	records, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}
	s.metrics.ObserveStats(scope, time.Since(start))

	agg := stats.ComputeStats(records)
	snap := &models.StatsSnapshot{
		Scope:          scope,
		StudentID:      filter.StudentID,
		CourseID:       filter.CourseID,
		Stats:          agg,
		OverallAverage: stats.OverallAverage(agg),
		RecordCount:    stats.RecordCount(agg),
		ComputedAt:     s.now().UTC(),
	}
	if cacheable {
		if err := s.cache.Set(ctx, key, snap, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return snap, false, nil
}

func scopeName(filter models.RecordFilter) string {
	return strings.ReplaceAll(filter.String(), " ", "")
}

func generationKey(filter models.RecordFilter) string {
	return statsCachePrefix + ":gen:" + scopeName(filter)
}

func statsCacheKey(filter models.RecordFilter, gen int64) string {
	return statsCachePrefix + ":snap:" + scopeName(filter) + ":v" + strconv.FormatInt(gen, 10)
}

func generationKeys(change models.RecordChange) []string {
	return []string{
		generationKey(models.RecordFilter{}),
		generationKey(models.ByCourse(change.CourseID)),
		generationKey(models.ByStudent(change.StudentID)),
		generationKey(models.ByStudentAndCourse(change.StudentID, change.CourseID)),
	}
}
