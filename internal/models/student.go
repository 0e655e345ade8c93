package models

import "time"

// Student is a learner. CourseIDs is the authoritative enrolment list; course
// rosters are derived from it.
type Student struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ParentEmail string    `db:"parent_email" json:"parent_email"`
	PhotoURL    string    `db:"photo_url" json:"photo_url"`
	CourseIDs   []string  `db:"-" json:"course_ids"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search      string
	CourseID    string
	ParentEmail string
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}

// ImportRowError reports why a spreadsheet row was not imported. Row is the
// 1-based line number including the header.
type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult summarises a student import.
type ImportResult struct {
	Total    int              `json:"total"`
	Created  int              `json:"created"`
	Students []Student        `json:"students"`
	Errors   []ImportRowError `json:"errors"`
}
