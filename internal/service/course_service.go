package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

const dashboardConcurrency = 4

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
}

type courseStatsReader interface {
	Course(ctx context.Context, courseID string) (*models.StatsSnapshot, bool, error)
}

// CourseRequest is the payload for creating or updating a course.
type CourseRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	TeacherID string `json:"teacher_id" validate:"required"`
}

// CourseService manages courses and the teacher dashboard.
type CourseService struct {
	repo      courseRepository
	stats     courseStatsReader
	changes   *ChangeNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the course service.
func NewCourseService(repo courseRepository, stats courseStatsReader, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, stats: stats, validator: validate, logger: logger}
}

// SetChangeNotifier attaches the notifier told about records removed with a course.
func (s *CourseService) SetChangeNotifier(changes *ChangeNotifier) {
	s.changes = changes
}

// List returns courses and pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, paginate(filter.Page, filter.PageSize, 50, total), nil
}

// Get returns a course with its roster.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a course.
func (s *CourseService) Create(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course := &models.Course{Name: strings.TrimSpace(req.Name), TeacherID: req.TeacherID, StudentIDs: []string{}}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update renames a course or reassigns its teacher.
func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	course.Name = strings.TrimSpace(req.Name)
	course.TeacherID = req.TeacherID
	if err := s.repo.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete removes a course with its enrolments and records.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	removed, err := s.changes.Removals(ctx, models.ByCourse(id))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course records")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.changes.NotifyAll(ctx, removed)
	return nil
}

// Dashboard summarises every course taught by teacherID.
func (s *CourseService) Dashboard(ctx context.Context, teacherID string) ([]models.CourseSummary, error) {
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id is required")
	}
	courses, _, err := s.repo.List(ctx, models.CourseFilter{TeacherID: teacherID, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	summaries := make([]models.CourseSummary, len(courses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardConcurrency)
	for i := range courses {
		i := i
		g.Go(func() error {
			snap, _, err := s.stats.Course(gctx, courses[i].ID)
			if err != nil {
				return err
			}
			summaries[i] = models.CourseSummary{
				Course:         courses[i],
				Stats:          snap.Stats,
				OverallAverage: snap.OverallAverage,
				StudentCount:   len(courses[i].StudentIDs),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// TaughtBy reports whether teacherID teaches the course.
func (s *CourseService) TaughtBy(ctx context.Context, courseID, teacherID string) (bool, error) {
	course, err := s.Get(ctx, courseID)
	if err != nil {
		return false, err
	}
	return course.TeacherID == teacherID, nil
}
