package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/service"
	"github.com/noah-isme/sma-progress-api/pkg/response"
)

type recordService interface {
	ValidateCreate(req service.CreateRecordRequest) error
	ValidateBulk(req service.BulkRecordRequest) error
	Create(ctx context.Context, req service.CreateRecordRequest) (*models.Record, error)
	CreateBulk(ctx context.Context, req service.BulkRecordRequest) (*models.BulkResult, error)
	Get(ctx context.Context, id string) (*models.Record, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
	Update(ctx context.Context, id string, req service.UpdateRecordRequest) (*models.Record, error)
	Delete(ctx context.Context, id string) error
}

// RecordHandler exposes score record endpoints.
type RecordHandler struct {
	records recordService
	access  *Access
}

// NewRecordHandler constructs RecordHandler.
func NewRecordHandler(records recordService, access *Access) *RecordHandler {
	return &RecordHandler{records: records, access: access}
}

// Create godoc
// @Summary Record a score
// @Tags Records
// @Accept json
// @Produce json
// @Param payload body service.CreateRecordRequest true "Record payload"
// @Success 201 {object} response.Envelope
// @Router /records [post]
func (h *RecordHandler) Create(c *gin.Context) {
	var req service.CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if err := h.records.ValidateCreate(req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.access.CanWriteCourse(c, req.CourseID); err != nil {
		response.Error(c, err)
		return
	}
	req.TeacherID = claimsFromContext(c).UserID
	record, err := h.records.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Bulk godoc
// @Summary Score several students at once
// @Description Every student is written independently; the response lists the students that failed.
// @Tags Records
// @Accept json
// @Produce json
// @Param payload body service.BulkRecordRequest true "Bulk payload"
// @Success 201 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /records/bulk [post]
func (h *RecordHandler) Bulk(c *gin.Context) {
	var req service.BulkRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if err := h.records.ValidateBulk(req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.access.CanWriteCourse(c, req.CourseID); err != nil {
		response.Error(c, err)
		return
	}
	req.TeacherID = claimsFromContext(c).UserID
	result, err := h.records.CreateBulk(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, result, nil)
}

// List godoc
// @Summary List records of a student and/or course
// @Tags Records
// @Produce json
// @Param student_id query string false "Student ID"
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /records [get]
func (h *RecordHandler) List(c *gin.Context) {
	filter := recordFilterFromQuery(c)
	if err := h.access.CanReadFilter(c, filter); err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.records.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Get godoc
// @Summary Get a record
// @Tags Records
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /records/{id} [get]
func (h *RecordHandler) Get(c *gin.Context) {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.access.CanReadFilter(c, models.ByStudentAndCourse(record.StudentID, record.CourseID)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Update godoc
// @Summary Edit type, value or note of a record
// @Tags Records
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.UpdateRecordRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /records/{id} [patch]
func (h *RecordHandler) Update(c *gin.Context) {
	var req service.UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if !h.authoriseRecordWrite(c) {
		return
	}
	record, err := h.records.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Delete a record
// @Tags Records
// @Param id path string true "Record ID"
// @Success 204
// @Router /records/{id} [delete]
func (h *RecordHandler) Delete(c *gin.Context) {
	if !h.authoriseRecordWrite(c) {
		return
	}
	if err := h.records.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *RecordHandler) authoriseRecordWrite(c *gin.Context) bool {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return false
	}
	if err := h.access.CanWriteCourse(c, record.CourseID); err != nil {
		response.Error(c, err)
		return false
	}
	return true
}
