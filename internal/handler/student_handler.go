package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/service"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
	"github.com/noah-isme/sma-progress-api/pkg/response"
)

// maxImportBytes caps the uploaded spreadsheet.
const maxImportBytes = 2 << 20

type studentService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error)
	Update(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, id string) error
	Enrol(ctx context.Context, studentID, courseID string) error
	Unenrol(ctx context.Context, studentID, courseID string) error
	ByParent(ctx context.Context, email string) ([]models.Student, error)
	Summary(ctx context.Context, studentID string) (*models.StudentSummary, error)
	Import(ctx context.Context, r io.Reader, format service.ImportFormat) (*models.ImportResult, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
	access   *Access
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, access *Access) *StudentHandler {
	return &StudentHandler{students: students, access: access}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name"
// @Param course_id query string false "Filter by course"
// @Param parent_email query string false "Filter by parent email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "name or created_at"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.CourseID = c.Query("course_id")
	filter.ParentEmail = strings.TrimSpace(c.Query("parent_email"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	if filter.CourseID != "" {
		if err := h.access.CanReadFilter(c, models.ByCourse(filter.CourseID)); err != nil {
			response.Error(c, err)
			return
		}
	}

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	if err := h.access.CanReadStudent(c, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	student, err := h.students.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student with its records
// @Tags Students
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Enrol godoc
// @Summary Enrol student in a course
// @Tags Students
// @Param id path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 204
// @Router /students/{id}/courses/{courseId} [post]
func (h *StudentHandler) Enrol(c *gin.Context) {
	if err := h.students.Enrol(c.Request.Context(), c.Param("id"), c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Unenrol godoc
// @Summary Remove student from a course
// @Tags Students
// @Param id path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 204
// @Router /students/{id}/courses/{courseId} [delete]
func (h *StudentHandler) Unenrol(c *gin.Context) {
	if err := h.students.Unenrol(c.Request.Context(), c.Param("id"), c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Summary godoc
// @Summary Student progress per course
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/summary [get]
func (h *StudentHandler) Summary(c *gin.Context) {
	if err := h.access.CanReadStudent(c, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.students.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// MyChildren godoc
// @Summary Children of the signed-in parent
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/students [get]
func (h *StudentHandler) MyChildren(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	students, err := h.students.ByParent(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Import godoc
// @Summary Import students from CSV or XLSX
// @Description Columns: nombre, email_apoderado, foto (optional), curso (optional).
// @Tags Students
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX file"
// @Success 200 {object} response.Envelope
// @Router /students/import [post]
func (h *StudentHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "a CSV or XLSX file is required in the file field"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "could not read the uploaded file"))
		return
	}
	defer file.Close()

	format := service.ImportCSV
	if strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		format = service.ImportXLSX
	}
	result, err := h.students.Import(c.Request.Context(), file, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
