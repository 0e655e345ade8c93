package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/service"
	"github.com/noah-isme/sma-progress-api/pkg/response"
)

type exportService interface {
	StudentReport(ctx context.Context, studentID, courseID string, format service.ReportFormat) (*service.ExportFile, error)
}

// ExportHandler serves downloadable progress reports.
type ExportHandler struct {
	exports exportService
	access  *Access
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports exportService, access *Access) *ExportHandler {
	return &ExportHandler{exports: exports, access: access}
}

// StudentReport godoc
// @Summary Download a student's progress report
// @Tags Export
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Student ID"
// @Param course_id query string false "Restrict to one course"
// @Param format query string false "csv (default), pdf or xlsx"
// @Success 200 {file} file
// @Router /students/{id}/report [get]
func (h *ExportHandler) StudentReport(c *gin.Context) {
	studentID := c.Param("id")
	courseID := strings.TrimSpace(c.Query("course_id"))
	if err := h.access.CanReadFilter(c, models.ByStudentAndCourse(studentID, courseID)); err != nil {
		response.Error(c, err)
		return
	}
	format := service.ReportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ReportFormatCSV))))
	file, err := h.exports.StudentReport(c.Request.Context(), studentID, courseID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
