package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

func statsRoutes(r *gin.Engine, svc *fakeStatsService) {
	h := NewStatsHandler(svc, testAccess())
	r.GET("/stats/global", h.Global)
	r.GET("/stats/courses/:id", h.Course)
	r.GET("/stats/students/:id", h.Student)
	r.GET("/stats/compare", h.Compare)
	r.GET("/stats/trend", h.Trend)
	r.POST("/admin/cache/flush", h.Flush)
}

func TestStatsHandlerReportsCacheHit(t *testing.T) {
	svc := &fakeStatsService{snap: &models.StatsSnapshot{Scope: models.ScopeCourse, CourseID: "math"}, hit: true}
	r := newRouter(teacherClaims)
	statsRoutes(r, svc)

	rec := doJSON(r, http.MethodGet, "/stats/courses/math", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, true, decodeEnvelope(rec).Meta["cache_hit"])
	assert.Equal(t, "course:math", svc.lastScope)

	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/stats/courses/art", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/stats/courses/ghost", "").Code)
}

func TestStatsHandlerStudentScope(t *testing.T) {
	svc := &fakeStatsService{snap: &models.StatsSnapshot{}}
	r := newRouter(parentClaims)
	statsRoutes(r, svc)

	require.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/stats/students/ana", "").Code)
	assert.Equal(t, "student:ana", svc.lastScope)

	require.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/stats/students/ana?course_id=math", "").Code)
	assert.Equal(t, "student:ana:course:math", svc.lastScope)

	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/stats/students/ben", "").Code)
}

func TestStatsHandlerCompare(t *testing.T) {
	svc := &fakeStatsService{}
	r := newRouter(parentClaims)
	statsRoutes(r, svc)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/stats/compare?student_id=ana", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/stats/compare?student_id=ana&course_id=math", "").Code)
	assert.Equal(t, "compare:ana:math", svc.lastScope)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/stats/compare?student_id=ben&course_id=math", "").Code)
}

func TestStatsHandlerTrend(t *testing.T) {
	svc := &fakeStatsService{}
	r := newRouter(adminClaims)
	statsRoutes(r, svc)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/stats/trend", "").Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/stats/trend?course_id=math&days=week", "").Code)

	require.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/stats/trend?course_id=math&days=7", "").Code)
	assert.Equal(t, 7, svc.trendDays)
	require.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/stats/trend?student_id=ana", "").Code)
	assert.Equal(t, 0, svc.trendDays)
}

func TestStatsHandlerFlush(t *testing.T) {
	svc := &fakeStatsService{}
	r := newRouter(adminClaims)
	statsRoutes(r, svc)

	assert.Equal(t, http.StatusNoContent, doJSON(r, http.MethodPost, "/admin/cache/flush", "").Code)
	assert.True(t, svc.flushed)
}
