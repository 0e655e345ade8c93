package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-progress-api/internal/middleware"
	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/service"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(rec *httptest.ResponseRecorder) responseEnvelope {
	var env responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return env
}

var (
	adminClaims   = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@example.com"}
	teacherClaims = &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher, Email: "docente@example.com"}
	parentClaims  = &models.JWTClaims{UserID: "parent-1", Role: models.RoleParent, Email: "madre@example.com"}
)

// rosterAccess backs Access with fixed course and parent assignments.
type rosterAccess struct {
	courseTeacher map[string]string
	parentOf      map[string]string
}

func (r rosterAccess) TaughtBy(ctx context.Context, courseID, teacherID string) (bool, error) {
	owner, ok := r.courseTeacher[courseID]
	if !ok {
		return false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return owner == teacherID, nil
}

func (r rosterAccess) IsParentOf(ctx context.Context, email, studentID string) (bool, error) {
	return strings.EqualFold(r.parentOf[studentID], email), nil
}

func testAccess() *Access {
	roster := rosterAccess{
		courseTeacher: map[string]string{"math": "teacher-1", "art": "teacher-2"},
		parentOf:      map[string]string{"ana": "madre@example.com", "ben": "padre@example.com"},
	}
	return NewAccess(roster, roster)
}

func newRouter(claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	if claims != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserKey, claims)
			c.Next()
		})
	}
	return r
}

func doJSON(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type fakeRecordService struct {
	mu         sync.Mutex
	records    map[string]models.Record
	bulkResult *models.BulkResult
	bulkReq    *service.BulkRecordRequest
	createReq  *service.CreateRecordRequest
	deleted    []string
}

func (f *fakeRecordService) ValidateCreate(req service.CreateRecordRequest) error {
	if req.StudentID == "" || req.CourseID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student_id and course_id are required")
	}
	return nil
}

func (f *fakeRecordService) ValidateBulk(req service.BulkRecordRequest) error {
	if len(req.StudentIDs) == 0 || req.CourseID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student_ids and course_id are required")
	}
	return nil
}

func (f *fakeRecordService) Create(ctx context.Context, req service.CreateRecordRequest) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReq = &req
	return &models.Record{ID: "r-new", StudentID: req.StudentID, CourseID: req.CourseID, TeacherID: req.TeacherID, Type: req.Type, Value: req.Value}, nil
}

func (f *fakeRecordService) CreateBulk(ctx context.Context, req service.BulkRecordRequest) (*models.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkReq = &req
	return f.bulkResult, nil
}

func (f *fakeRecordService) Get(ctx context.Context, id string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "record not found")
	}
	return &r, nil
}

func (f *fakeRecordService) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Record{}
	for _, r := range f.records {
		if filter.Matches(r.StudentID, r.CourseID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordService) Update(ctx context.Context, id string, req service.UpdateRecordRequest) (*models.Record, error) {
	r, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Value != nil {
		r.Value = *req.Value
	}
	return r, nil
}

func (f *fakeRecordService) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.records, id)
	return nil
}

type fakeStatsService struct {
	snap      *models.StatsSnapshot
	hit       bool
	lastScope string
	trendDays int
	flushed   bool
}

func (f *fakeStatsService) Student(ctx context.Context, studentID string) (*models.StatsSnapshot, bool, error) {
	f.lastScope = "student:" + studentID
	return f.snap, f.hit, nil
}

func (f *fakeStatsService) StudentInCourse(ctx context.Context, studentID, courseID string) (*models.StatsSnapshot, bool, error) {
	f.lastScope = "student:" + studentID + ":course:" + courseID
	return f.snap, f.hit, nil
}

func (f *fakeStatsService) Course(ctx context.Context, courseID string) (*models.StatsSnapshot, bool, error) {
	f.lastScope = "course:" + courseID
	return f.snap, f.hit, nil
}

func (f *fakeStatsService) Global(ctx context.Context) (*models.StatsSnapshot, bool, error) {
	f.lastScope = "global"
	return f.snap, f.hit, nil
}

func (f *fakeStatsService) Compare(ctx context.Context, studentID, courseID string) (*models.ComparativeStats, error) {
	f.lastScope = "compare:" + studentID + ":" + courseID
	return &models.ComparativeStats{StudentID: studentID, CourseID: courseID}, nil
}

func (f *fakeStatsService) Trend(ctx context.Context, filter models.RecordFilter, days int) (*models.TrendSeries, error) {
	f.trendDays = days
	return &models.TrendSeries{Days: days}, nil
}

func (f *fakeStatsService) Flush(ctx context.Context) error {
	f.flushed = true
	return nil
}
