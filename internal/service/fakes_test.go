package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
	"github.com/noah-isme/sma-progress-api/pkg/jobs"
)

var errDBDown = errors.New("db down")

type fakeRecordStore struct {
	mu         sync.Mutex
	records    map[string]models.Record
	failFor    map[string]error
	listErr    error
	creates    int
	listCalls  int
	lastFilter models.RecordFilter
}

func newFakeRecordStore(records ...models.Record) *fakeRecordStore {
	s := &fakeRecordStore{records: map[string]models.Record{}, failFor: map[string]error{}}
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeRecordStore) Create(ctx context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if err := s.failFor[record.StudentID]; err != nil {
		return err
	}
	record.ID = uuid.NewString()
	record.UpdatedAt = record.Timestamp
	s.records[record.ID] = *record
	return nil
}

func (s *fakeRecordStore) FindByID(ctx context.Context, id string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (s *fakeRecordStore) Update(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	r = patch.Apply(r)
	s.records[id] = r
	return &r, nil
}

func (s *fakeRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.records, id)
	return nil
}

func (s *fakeRecordStore) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []models.Record{}
	for _, r := range s.records {
		if !filter.Matches(r.StudentID, r.CourseID) {
			continue
		}
		if filter.Since != nil && r.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *fakeRecordStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.RecordChange
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, change models.RecordChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingPublisher) published() []models.RecordChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RecordChange(nil), p.changes...)
}

type recordingInvalidator struct {
	mu      sync.Mutex
	changes []models.RecordChange
}

func (i *recordingInvalidator) Invalidate(change models.RecordChange) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.changes = append(i.changes, change)
}

func (i *recordingInvalidator) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.changes)
}

// memoryCache stores JSON payloads like the Redis repository does.
type memoryCache struct {
	mu      sync.Mutex
	items   map[string][]byte
	getErr  error
	incrErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return c.getErr
	}
	raw, ok := c.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = raw
	return nil
}

func (c *memoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	var n int64
	if raw, ok := c.items[key]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
	}
	n++
	c.items[key], _ = json.Marshal(n)
	return n, nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeStudentRepo struct {
	students  map[string]*models.Student
	createErr error
	listErr   error
}

func newFakeStudentRepo(students ...models.Student) *fakeStudentRepo {
	repo := &fakeStudentRepo{students: map[string]*models.Student{}}
	for i := range students {
		s := students[i]
		repo.students[s.ID] = &s
	}
	return repo
}

func (r *fakeStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	out := []models.Student{}
	for _, s := range r.students {
		if filter.ParentEmail != "" && s.ParentEmail != filter.ParentEmail {
			continue
		}
		if filter.CourseID != "" && !contains(s.CourseIDs, filter.CourseID) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (r *fakeStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := r.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	cp.CourseIDs = append([]string(nil), s.CourseIDs...)
	return &cp, nil
}

func (r *fakeStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if r.createErr != nil {
		return r.createErr
	}
	student.ID = uuid.NewString()
	cp := *student
	r.students[student.ID] = &cp
	return nil
}

func (r *fakeStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if _, ok := r.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *student
	r.students[student.ID] = &cp
	return nil
}

func (r *fakeStudentRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.students, id)
	return nil
}

func (r *fakeStudentRepo) SetCourses(ctx context.Context, studentID string, courseIDs []string) error {
	s, ok := r.students[studentID]
	if !ok {
		return sql.ErrNoRows
	}
	s.CourseIDs = append([]string(nil), courseIDs...)
	return nil
}

func (r *fakeStudentRepo) Enrol(ctx context.Context, studentID, courseID string) error {
	s, ok := r.students[studentID]
	if !ok {
		return sql.ErrNoRows
	}
	if !contains(s.CourseIDs, courseID) {
		s.CourseIDs = append(s.CourseIDs, courseID)
	}
	return nil
}

func (r *fakeStudentRepo) Unenrol(ctx context.Context, studentID, courseID string) error {
	s, ok := r.students[studentID]
	if !ok || !contains(s.CourseIDs, courseID) {
		return sql.ErrNoRows
	}
	kept := s.CourseIDs[:0]
	for _, id := range s.CourseIDs {
		if id != courseID {
			kept = append(kept, id)
		}
	}
	s.CourseIDs = kept
	return nil
}

type fakeCourseRepo struct {
	courses map[string]*models.Course
	listErr error
}

func newFakeCourseRepo(courses ...models.Course) *fakeCourseRepo {
	repo := &fakeCourseRepo{courses: map[string]*models.Course{}}
	for i := range courses {
		c := courses[i]
		repo.courses[c.ID] = &c
	}
	return repo
}

func (r *fakeCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	out := []models.Course{}
	for _, c := range r.courses {
		if filter.TeacherID != "" && c.TeacherID != filter.TeacherID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (r *fakeCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := r.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCourseRepo) Create(ctx context.Context, course *models.Course) error {
	course.ID = uuid.NewString()
	cp := *course
	r.courses[course.ID] = &cp
	return nil
}

func (r *fakeCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if _, ok := r.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *course
	r.courses[course.ID] = &cp
	return nil
}

func (r *fakeCourseRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.courses, id)
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func record(studentID, courseID string, t models.RecordType, value int, at time.Time) models.Record {
	return models.Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  courseID,
		TeacherID: "teacher-1",
		Type:      t,
		Value:     value,
		Timestamp: at,
	}
}
