package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

func recordRoutes(r *gin.Engine, svc *fakeRecordService) {
	h := NewRecordHandler(svc, testAccess())
	r.POST("/records", h.Create)
	r.POST("/records/bulk", h.Bulk)
	r.GET("/records", h.List)
	r.GET("/records/:id", h.Get)
	r.PATCH("/records/:id", h.Update)
	r.DELETE("/records/:id", h.Delete)
}

func TestRecordHandlerBulkReportsPartialFailure(t *testing.T) {
	svc := &fakeRecordService{bulkResult: &models.BulkResult{
		Total:     3,
		Succeeded: []string{"a", "c"},
		Failed:    []models.BulkFailure{{StudentID: "b", Error: "write failed"}},
	}}
	r := newRouter(teacherClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodPost, "/records/bulk", `{"student_ids":["a","b","c"],"course_id":"math","teacher_id":"spoofed","type":"participacion","value":4}`)
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	require.NotNil(t, svc.bulkReq)
	assert.Equal(t, "teacher-1", svc.bulkReq.TeacherID)
	assert.Equal(t, []string{"a", "b", "c"}, svc.bulkReq.StudentIDs)

	var result models.BulkResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(rec).Data, &result))
	assert.Equal(t, []string{"a", "c"}, result.Succeeded)
	assert.Equal(t, "b", result.Failed[0].StudentID)
}

func TestRecordHandlerBulkAllSucceeded(t *testing.T) {
	svc := &fakeRecordService{bulkResult: &models.BulkResult{Total: 1, Succeeded: []string{"a"}, Failed: []models.BulkFailure{}}}
	r := newRouter(adminClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodPost, "/records/bulk", `{"student_ids":["a"],"course_id":"art","type":"puntualidad","value":2}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRecordHandlerWritesRequireTeachingTheCourse(t *testing.T) {
	svc := &fakeRecordService{}
	r := newRouter(teacherClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodPost, "/records/bulk", `{"student_ids":["a"],"course_id":"art","type":"participacion","value":4}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, svc.bulkReq)

	parent := newRouter(parentClaims)
	recordRoutes(parent, svc)
	rec = doJSON(parent, http.MethodPost, "/records", `{"student_id":"ana","course_id":"math","type":"participacion","value":4}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, svc.createReq)
}

func TestRecordHandlerValidatesBeforeCourseAccess(t *testing.T) {
	svc := &fakeRecordService{}
	r := newRouter(teacherClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodPost, "/records/bulk", `{"student_ids":["a"],"type":"participacion","value":4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.bulkReq)

	rec = doJSON(r, http.MethodPost, "/records", `{"student_id":"ana","type":"participacion","value":4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.createReq)
}

func TestRecordHandlerCreateStampsTeacher(t *testing.T) {
	svc := &fakeRecordService{}
	r := newRouter(teacherClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodPost, "/records", `{"student_id":"ana","course_id":"math","type":"comportamiento","value":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "teacher-1", svc.createReq.TeacherID)

	rec = doJSON(r, http.MethodPost, "/records", `{"student_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordHandlerUpdateAndDeleteChecksRecordCourse(t *testing.T) {
	svc := &fakeRecordService{records: map[string]models.Record{
		"r1": {ID: "r1", StudentID: "ana", CourseID: "math", Value: 2},
		"r2": {ID: "r2", StudentID: "ana", CourseID: "art", Value: 2},
	}}
	r := newRouter(teacherClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodPatch, "/records/r1", `{"value":5}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(r, http.MethodPatch, "/records/r2", `{"value":5}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(r, http.MethodDelete, "/records/r2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, svc.deleted)

	rec = doJSON(r, http.MethodDelete, "/records/r1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"r1"}, svc.deleted)

	rec = doJSON(r, http.MethodDelete, "/records/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordHandlerListScopedForParents(t *testing.T) {
	svc := &fakeRecordService{records: map[string]models.Record{
		"r1": {ID: "r1", StudentID: "ana", CourseID: "math"},
		"r2": {ID: "r2", StudentID: "ben", CourseID: "math"},
	}}
	r := newRouter(parentClaims)
	recordRoutes(r, svc)

	rec := doJSON(r, http.MethodGet, "/records?student_id=ana", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.Record
	require.NoError(t, json.Unmarshal(decodeEnvelope(rec).Data, &records))
	assert.Len(t, records, 1)

	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/records?student_id=ben", "").Code)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/records?course_id=math", "").Code)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/records/r2", "").Code)
}
