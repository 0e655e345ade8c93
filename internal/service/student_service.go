package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/stats"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

// DefaultStudentPhoto is used when a student is created without a photo.
const DefaultStudentPhoto = "https://via.placeholder.com/150?text=Estudiante"

type courseCatalog interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
}

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
	SetCourses(ctx context.Context, studentID string, courseIDs []string) error
	Enrol(ctx context.Context, studentID, courseID string) error
	Unenrol(ctx context.Context, studentID, courseID string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	Name        string   `json:"name" validate:"required,max=120"`
	ParentEmail string   `json:"parent_email" validate:"required,email"`
	PhotoURL    string   `json:"photo_url" validate:"omitempty,url"`
	CourseIDs   []string `json:"course_ids" validate:"omitempty,dive,required"`
}

// UpdateStudentRequest holds payload for updating students. A nil CourseIDs
// leaves enrolments untouched.
type UpdateStudentRequest struct {
	Name        string    `json:"name" validate:"required,max=120"`
	ParentEmail string    `json:"parent_email" validate:"required,email"`
	PhotoURL    string    `json:"photo_url" validate:"omitempty,url"`
	CourseIDs   *[]string `json:"course_ids" validate:"omitempty,dive,required"`
}

// StudentService handles roster and parent facing student use-cases.
type StudentService struct {
	repo      studentRepository
	courses   courseCatalog
	records   recordLister
	changes   *ChangeNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, courses courseCatalog, records recordLister, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, courses: courses, records: records, validator: validate, logger: logger}
}

// SetChangeNotifier attaches the notifier told about records removed with a student.
func (s *StudentService) SetChangeNotifier(changes *ChangeNotifier) {
	s.changes = changes
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, paginate(filter.Page, filter.PageSize, 20, total), nil
}

// Get returns a student with its enrolments.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student and its enrolments.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	student := &models.Student{
		Name:        strings.TrimSpace(req.Name),
		ParentEmail: normalizeEmail(req.ParentEmail),
		PhotoURL:    req.PhotoURL,
		CourseIDs:   dedupe(req.CourseIDs),
	}
	if student.PhotoURL == "" {
		student.PhotoURL = DefaultStudentPhoto
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update modifies the profile and optionally the enrolments of a student.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	student.Name = strings.TrimSpace(req.Name)
	student.ParentEmail = normalizeEmail(req.ParentEmail)
	if req.PhotoURL != "" {
		student.PhotoURL = req.PhotoURL
	}
	if err := s.repo.Update(ctx, student); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	if req.CourseIDs != nil {
		courseIDs := dedupe(*req.CourseIDs)
		if err := s.repo.SetCourses(ctx, id, courseIDs); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrolments")
		}
		student.CourseIDs = courseIDs
	}
	return student, nil
}

// Delete removes a student together with its enrolments and records. Every
// course the student had records in is reported as changed.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	removed, err := s.changes.Removals(ctx, models.ByStudent(id))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student records")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.changes.NotifyAll(ctx, removed)
	return nil
}

// Enrol adds a student to a course.
func (s *StudentService) Enrol(ctx context.Context, studentID, courseID string) error {
	if _, err := s.Get(ctx, studentID); err != nil {
		return err
	}
	if err := s.repo.Enrol(ctx, studentID, courseID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enrol student")
	}
	return nil
}

// Unenrol removes a student from a course. Existing records are kept.
func (s *StudentService) Unenrol(ctx context.Context, studentID, courseID string) error {
	if err := s.repo.Unenrol(ctx, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unenrol student")
	}
	return nil
}

// ByParent lists the children registered under a parent email.
func (s *StudentService) ByParent(ctx context.Context, email string) ([]models.Student, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "parent email is required")
	}
	students, _, err := s.repo.List(ctx, models.StudentFilter{ParentEmail: email, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list children")
	}
	return students, nil
}

// IsParentOf reports whether email is registered as the student's parent.
func (s *StudentService) IsParentOf(ctx context.Context, email, studentID string) (bool, error) {
	student, err := s.Get(ctx, studentID)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(student.ParentEmail, strings.TrimSpace(email)), nil
}

// Summary aggregates a student's records overall and per enrolled course.
func (s *StudentService) Summary(ctx context.Context, studentID string) (*models.StudentSummary, error) {
	student, err := s.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.List(ctx, models.ByStudent(studentID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}

	overall := stats.ComputeStats(records)
	courses := stats.ComputeStatsBy(records, func(r models.Record) string { return r.CourseID })
	for _, courseID := range student.CourseIDs {
		if _, ok := courses[courseID]; !ok {
			courses[courseID] = stats.NewAggregate()
		}
	}

	summary := &models.StudentSummary{
		Student:        *student,
		Overall:        overall,
		OverallAverage: stats.OverallAverage(overall),
		Courses:        courses,
	}
	for _, r := range records {
		ts := r.Timestamp
		if summary.LastRecordAt == nil || ts.After(*summary.LastRecordAt) {
			summary.LastRecordAt = &ts
		}
	}
	return summary, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
