package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-progress-api/internal/middleware"
	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
	"github.com/noah-isme/sma-progress-api/pkg/response"
)

type statsService interface {
	Student(ctx context.Context, studentID string) (*models.StatsSnapshot, bool, error)
	StudentInCourse(ctx context.Context, studentID, courseID string) (*models.StatsSnapshot, bool, error)
	Course(ctx context.Context, courseID string) (*models.StatsSnapshot, bool, error)
	Global(ctx context.Context) (*models.StatsSnapshot, bool, error)
	Compare(ctx context.Context, studentID, courseID string) (*models.ComparativeStats, error)
	Trend(ctx context.Context, filter models.RecordFilter, days int) (*models.TrendSeries, error)
	Flush(ctx context.Context) error
}

// StatsHandler serves one-shot statistics.
type StatsHandler struct {
	stats  statsService
	access *Access
}

// NewStatsHandler constructs StatsHandler.
func NewStatsHandler(stats statsService, access *Access) *StatsHandler {
	return &StatsHandler{stats: stats, access: access}
}

// Global godoc
// @Summary Institution wide averages
// @Tags Stats
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stats/global [get]
func (h *StatsHandler) Global(c *gin.Context) {
	snap, hit, err := h.stats.Global(c.Request.Context())
	h.respond(c, snap, hit, err)
}

// Course godoc
// @Summary Course averages
// @Tags Stats
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /stats/courses/{id} [get]
func (h *StatsHandler) Course(c *gin.Context) {
	courseID := c.Param("id")
	if err := h.access.CanReadFilter(c, models.ByCourse(courseID)); err != nil {
		response.Error(c, err)
		return
	}
	snap, hit, err := h.stats.Course(c.Request.Context(), courseID)
	h.respond(c, snap, hit, err)
}

// Student godoc
// @Summary Student averages, optionally within one course
// @Tags Stats
// @Produce json
// @Param id path string true "Student ID"
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /stats/students/{id} [get]
func (h *StatsHandler) Student(c *gin.Context) {
	studentID := c.Param("id")
	courseID := strings.TrimSpace(c.Query("course_id"))
	if err := h.access.CanReadFilter(c, models.ByStudentAndCourse(studentID, courseID)); err != nil {
		response.Error(c, err)
		return
	}
	var (
		snap *models.StatsSnapshot
		hit  bool
		err  error
	)
	if courseID != "" {
		snap, hit, err = h.stats.StudentInCourse(c.Request.Context(), studentID, courseID)
	} else {
		snap, hit, err = h.stats.Student(c.Request.Context(), studentID)
	}
	h.respond(c, snap, hit, err)
}

// Compare godoc
// @Summary Compare a student with the course average
// @Tags Stats
// @Produce json
// @Param student_id query string true "Student ID"
// @Param course_id query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /stats/compare [get]
func (h *StatsHandler) Compare(c *gin.Context) {
	filter := recordFilterFromQuery(c)
	if filter.StudentID == "" || filter.CourseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id and course_id are required"))
		return
	}
	// parents may compare their child with the course without reading the course itself
	if err := h.access.CanReadFilter(c, filter); err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.stats.Compare(c.Request.Context(), filter.StudentID, filter.CourseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Trend godoc
// @Summary Daily averages over the last days
// @Tags Stats
// @Produce json
// @Param student_id query string false "Student ID"
// @Param course_id query string false "Course ID"
// @Param days query int false "Window in days (default 30)"
// @Success 200 {object} response.Envelope
// @Router /stats/trend [get]
func (h *StatsHandler) Trend(c *gin.Context) {
	filter := recordFilterFromQuery(c)
	if !filter.Keyed() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id or course_id is required"))
		return
	}
	days, err := queryInt(c, "days", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.access.CanReadFilter(c, filter); err != nil {
		response.Error(c, err)
		return
	}
	series, err := h.stats.Trend(c.Request.Context(), filter, days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, nil)
}

// Flush godoc
// @Summary Drop every cached statistics snapshot
// @Tags Admin
// @Success 204
// @Router /admin/cache/flush [post]
func (h *StatsHandler) Flush(c *gin.Context) {
	if err := h.stats.Flush(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *StatsHandler) respond(c *gin.Context, snap *models.StatsSnapshot, hit bool, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, snap, nil, middleware.ExtractMeta(c))
}
