package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/service"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

type fakeStudentService struct {
	imported   string
	format     service.ImportFormat
	parentSeen string
}

func (f *fakeStudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	return []models.Student{}, &models.Pagination{Page: 1}, nil
}

func (f *fakeStudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id}, nil
}

func (f *fakeStudentService) Create(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error) {
	return &models.Student{ID: "new", Name: req.Name}, nil
}

func (f *fakeStudentService) Update(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error) {
	return &models.Student{ID: id, Name: req.Name}, nil
}

func (f *fakeStudentService) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeStudentService) Enrol(ctx context.Context, studentID, courseID string) error { return nil }

func (f *fakeStudentService) Unenrol(ctx context.Context, studentID, courseID string) error {
	return appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
}

func (f *fakeStudentService) ByParent(ctx context.Context, email string) ([]models.Student, error) {
	f.parentSeen = email
	return []models.Student{{ID: "ana"}}, nil
}

func (f *fakeStudentService) Summary(ctx context.Context, studentID string) (*models.StudentSummary, error) {
	return &models.StudentSummary{Student: models.Student{ID: studentID}}, nil
}

func (f *fakeStudentService) Import(ctx context.Context, r io.Reader, format service.ImportFormat) (*models.ImportResult, error) {
	f.format = format
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.imported = string(raw)
	return &models.ImportResult{Total: 1, Created: 1}, nil
}

type fakeExportService struct {
	format service.ReportFormat
}

func (f *fakeExportService) StudentReport(ctx context.Context, studentID, courseID string, format service.ReportFormat) (*service.ExportFile, error) {
	f.format = format
	return &service.ExportFile{Filename: "progreso_" + studentID + ".csv", ContentType: "text/csv; charset=utf-8", Payload: []byte("a,b\n")}, nil
}

func studentRoutes(r *gin.Engine, svc *fakeStudentService, exports *fakeExportService) {
	h := NewStudentHandler(svc, testAccess())
	e := NewExportHandler(exports, testAccess())
	r.POST("/students/import", h.Import)
	r.GET("/students/:id/summary", h.Summary)
	r.GET("/students/:id/report", e.StudentReport)
	r.DELETE("/students/:id/courses/:courseId", h.Unenrol)
	r.GET("/me/students", h.MyChildren)
}

func TestStudentHandlerImport(t *testing.T) {
	svc := &fakeStudentService{}
	r := newRouter(adminClaims)
	studentRoutes(r, svc, &fakeExportService{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "alumnos.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("nombre,email\nAna,p@example.com\n"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/students/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nombre,email\nAna,p@example.com\n", svc.imported)
	assert.Equal(t, service.ImportCSV, svc.format)

	body.Reset()
	writer = multipart.NewWriter(body)
	part, err = writer.CreateFormFile("file", "Curso.XLSX")
	require.NoError(t, err)
	_, _ = part.Write([]byte("PK"))
	require.NoError(t, writer.Close())
	req = httptest.NewRequest(http.MethodPost, "/students/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ImportXLSX, svc.format)

	rec = doJSON(r, http.MethodPost, "/students/import", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStudentHandlerParentViews(t *testing.T) {
	svc := &fakeStudentService{}
	exports := &fakeExportService{}
	r := newRouter(parentClaims)
	studentRoutes(r, svc, exports)

	rec := doJSON(r, http.MethodGet, "/me/students", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "madre@example.com", svc.parentSeen)

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/students/ana/summary", "").Code)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/students/ben/summary", "").Code)

	rec = doJSON(r, http.MethodGet, "/students/ana/report?format=PDF", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ReportFormatPDF, exports.format)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="progreso_ana.csv"`)
	assert.Equal(t, http.StatusForbidden, doJSON(r, http.MethodGet, "/students/ben/report", "").Code)
}

func TestStudentHandlerUnenrolNotFound(t *testing.T) {
	r := newRouter(adminClaims)
	studentRoutes(r, &fakeStudentService{}, &fakeExportService{})
	rec := doJSON(r, http.MethodDelete, "/students/ana/courses/math", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeEnvelope(rec).Error.Code)
}
