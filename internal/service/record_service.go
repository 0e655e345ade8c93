package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

const (
	defaultBulkMaxStudents = 200
	defaultBulkConcurrency = 8
)

type recordStore interface {
	Create(ctx context.Context, record *models.Record) error
	FindByID(ctx context.Context, id string) (*models.Record, error)
	Update(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
}

type changePublisher interface {
	Publish(ctx context.Context, change models.RecordChange) error
}

type statsInvalidator interface {
	Invalidate(change models.RecordChange)
}

// CreateRecordRequest is the payload of a single record.
type CreateRecordRequest struct {
	StudentID string            `json:"student_id" validate:"required"`
	CourseID  string            `json:"course_id" validate:"required"`
	TeacherID string            `json:"-"`
	Type      models.RecordType `json:"type" validate:"required,record_type"`
	Value     int               `json:"value" validate:"min=1,max=5"`
	Note      string            `json:"note" validate:"record_note"`
}

// BulkRecordRequest scores several students of a course with the same record.
type BulkRecordRequest struct {
	StudentIDs []string          `json:"student_ids" validate:"required,min=1,dive,required"`
	CourseID   string            `json:"course_id" validate:"required"`
	TeacherID  string            `json:"-"`
	Type       models.RecordType `json:"type" validate:"required,record_type"`
	Value      int               `json:"value" validate:"min=1,max=5"`
	Note       string            `json:"note" validate:"record_note"`
}

// UpdateRecordRequest edits the mutable fields of a record.
type UpdateRecordRequest struct {
	Type  *models.RecordType `json:"type" validate:"omitempty,record_type"`
	Value *int               `json:"value" validate:"omitempty,min=1,max=5"`
	Note  *string            `json:"note" validate:"omitempty,record_note"`
}

// RecordServiceConfig bounds bulk writes.
type RecordServiceConfig struct {
	BulkMaxStudents int
	BulkConcurrency int
}

// RecordService owns every record mutation. Each successful write is followed
// by a change event and a statistics cache invalidation.
type RecordService struct {
	store     recordStore
	changes   *ChangeNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       RecordServiceConfig
	now       func() time.Time
}

// NewRecordService constructs the record service. publisher and invalidator may be nil.
func NewRecordService(store recordStore, publisher changePublisher, invalidator statsInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg RecordServiceConfig) *RecordService {
	if validate == nil {
		validate = validator.New()
	}
	registerRecordValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BulkMaxStudents <= 0 {
		cfg.BulkMaxStudents = defaultBulkMaxStudents
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaultBulkConcurrency
	}
	return &RecordService{
		store:     store,
		changes:   NewChangeNotifier(store, publisher, invalidator, logger),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ValidateCreate checks a single record payload without writing it.
func (s *RecordService) ValidateCreate(req CreateRecordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid record payload")
	}
	return nil
}

// ValidateBulk checks a bulk payload without writing it.
func (s *RecordService) ValidateBulk(req BulkRecordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid bulk record payload")
	}
	if len(req.StudentIDs) > s.cfg.BulkMaxStudents {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d students per bulk write", s.cfg.BulkMaxStudents))
	}
	return nil
}

// Create stores a single record stamped with the current time.
func (s *RecordService) Create(ctx context.Context, req CreateRecordRequest) (*models.Record, error) {
	if err := s.ValidateCreate(req); err != nil {
		return nil, err
	}
	record := &models.Record{
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		TeacherID: req.TeacherID,
		Type:      req.Type,
		Value:     req.Value,
		Note:      req.Note,
		Timestamp: s.now().UTC(),
	}
	err := s.store.Create(ctx, record)
	s.metrics.ObserveRecordWrite(models.ChangeCreated, err)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrWrite, "failed to create record")
	}
	s.afterWrite(ctx, models.ChangeCreated, *record)
	return record, nil
}

// CreateBulk writes one record per student. The request is validated once
// before any write; after that every student is attempted independently and
// failures are reported per student without rolling back the others.
func (s *RecordService) CreateBulk(ctx context.Context, req BulkRecordRequest) (*models.BulkResult, error) {
	if err := s.ValidateBulk(req); err != nil {
		return nil, err
	}

	written := make([]*models.Record, len(req.StudentIDs))
	failures := make([]error, len(req.StudentIDs))

	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, studentID := range req.StudentIDs {
		i, studentID := i, studentID
		g.Go(func() error {
			record := &models.Record{
				StudentID: studentID,
				CourseID:  req.CourseID,
				TeacherID: req.TeacherID,
				Type:      req.Type,
				Value:     req.Value,
				Note:      req.Note,
				Timestamp: s.now().UTC(),
			}
			err := s.store.Create(ctx, record)
			s.metrics.ObserveRecordWrite(models.ChangeCreated, err)
			if err != nil {
				failures[i] = err
				return nil
			}
			written[i] = record
			s.afterWrite(ctx, models.ChangeCreated, *record)
			return nil
		})
	}
	// Workers never return an error; failures are collected per student.
	_ = g.Wait()

	result := &models.BulkResult{
		Total:     len(req.StudentIDs),
		Succeeded: make([]string, 0, len(req.StudentIDs)),
		Failed:    make([]models.BulkFailure, 0),
		Records:   make([]models.Record, 0, len(req.StudentIDs)),
	}
	for i, studentID := range req.StudentIDs {
		if failures[i] != nil {
			result.Failed = append(result.Failed, models.BulkFailure{StudentID: studentID, Error: failures[i].Error(), Err: failures[i]})
			continue
		}
		result.Succeeded = append(result.Succeeded, studentID)
		result.Records = append(result.Records, *written[i])
	}

	s.metrics.ObserveBulk(*result)
	if len(result.Failed) > 0 {
		s.logger.Warn("bulk record write partially failed",
			zap.String("course_id", req.CourseID),
			zap.Int("total", result.Total),
			zap.Int("failed", len(result.Failed)))
	}
	return result, nil
}

// Get returns a single record.
func (s *RecordService) Get(ctx context.Context, id string) (*models.Record, error) {
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	return record, nil
}

// List returns the records matching filter, oldest first.
func (s *RecordService) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return records, nil
}

// Update edits type, value or note of a record.
func (s *RecordService) Update(ctx context.Context, id string, req UpdateRecordRequest) (*models.Record, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid record payload")
	}
	patch := models.RecordPatch{Type: req.Type, Value: req.Value, Note: req.Note}
	if patch.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	record, err := s.store.Update(ctx, id, patch)
	s.metrics.ObserveRecordWrite(models.ChangeUpdated, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "record not found")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrWrite, "failed to update record")
	}
	s.afterWrite(ctx, models.ChangeUpdated, *record)
	return record, nil
}

// Delete removes a record.
func (s *RecordService) Delete(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, id)
	s.metrics.ObserveRecordWrite(models.ChangeDeleted, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "record not found")
		}
		return appErrors.WrapAs(err, appErrors.ErrWrite, "failed to delete record")
	}
	s.afterWrite(ctx, models.ChangeDeleted, *record)
	return nil
}

func (s *RecordService) afterWrite(ctx context.Context, op models.ChangeOp, record models.Record) {
	s.changes.Notify(ctx, models.RecordChange{
		Op:        op,
		RecordID:  record.ID,
		StudentID: record.StudentID,
		CourseID:  record.CourseID,
		At:        s.now().UTC(),
	})
}
