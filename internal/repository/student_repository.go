package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

// StudentRepository manages students and their course enrolments.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students s"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM student_courses sc WHERE sc.student_id = s.id AND sc.course_id = $%d)", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.ParentEmail != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(s.parent_email) = $%d", len(args)+1))
		args = append(args, strings.ToLower(strings.TrimSpace(filter.ParentEmail)))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(s.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"name":       "s.name",
		"created_at": "s.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "s.name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.name, s.parent_email, s.photo_url, s.created_at, s.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	if err := r.attachCourses(ctx, students); err != nil {
		return nil, 0, err
	}
	return students, total, nil
}

// FindByID fetches a student with its enrolments.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, name, parent_email, photo_url, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	list := []models.Student{student}
	if err := r.attachCourses(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// Create inserts a student and its initial enrolments in one transaction.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create student tx: %w", err)
	}
	const query = `INSERT INTO students (id, name, parent_email, photo_url, created_at, updated_at)
        VALUES (:id, :name, :parent_email, :photo_url, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, student); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create student: %w", err)
	}
	if err := insertEnrolments(ctx, tx, student.ID, student.CourseIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create student tx: %w", err)
	}
	return nil
}

// Update modifies the profile fields of a student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET name = :name, parent_email = :parent_email, photo_url = :photo_url, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return expectAffected(res)
}

// Delete removes a student; enrolments and records cascade.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectAffected(res)
}

// SetCourses replaces the enrolments of a student.
func (r *StudentRepository) SetCourses(ctx context.Context, studentID string, courseIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrolment tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM student_courses WHERE student_id = $1`, studentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear enrolments: %w", err)
	}
	if err := insertEnrolments(ctx, tx, studentID, courseIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrolment tx: %w", err)
	}
	return nil
}

// Enrol adds a single enrolment. Enrolling twice is a no-op.
func (r *StudentRepository) Enrol(ctx context.Context, studentID, courseID string) error {
	const query = `INSERT INTO student_courses (student_id, course_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, studentID, courseID); err != nil {
		return fmt.Errorf("enrol student: %w", err)
	}
	return nil
}

// Unenrol removes a single enrolment.
func (r *StudentRepository) Unenrol(ctx context.Context, studentID, courseID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM student_courses WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
	if err != nil {
		return fmt.Errorf("unenrol student: %w", err)
	}
	return expectAffected(res)
}

type enrolmentRow struct {
	StudentID string `db:"student_id"`
	CourseID  string `db:"course_id"`
}

func (r *StudentRepository) attachCourses(ctx context.Context, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	ids := make([]string, len(students))
	index := make(map[string]int, len(students))
	for i := range students {
		ids[i] = students[i].ID
		index[students[i].ID] = i
		students[i].CourseIDs = []string{}
	}
	var rows []enrolmentRow
	const query = `SELECT student_id, course_id FROM student_courses WHERE student_id = ANY($1) ORDER BY student_id, course_id`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("load enrolments: %w", err)
	}
	for _, row := range rows {
		if i, ok := index[row.StudentID]; ok {
			students[i].CourseIDs = append(students[i].CourseIDs, row.CourseID)
		}
	}
	return nil
}

func insertEnrolments(ctx context.Context, tx *sqlx.Tx, studentID string, courseIDs []string) error {
	const query = `INSERT INTO student_courses (student_id, course_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, courseID := range courseIDs {
		if _, err := tx.ExecContext(ctx, query, studentID, courseID); err != nil {
			return fmt.Errorf("enrol student in %s: %w", courseID, err)
		}
	}
	return nil
}
