package models

import "time"

// Course is taught by a single teacher. StudentIDs is read from student
// enrolments and never written through the course.
type Course struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	StudentIDs []string  `db:"-" json:"student_ids"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter scopes course listings.
type CourseFilter struct {
	TeacherID string
	Search    string
	Page      int
	PageSize  int
}
