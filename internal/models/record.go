package models

import (
	"time"
	"unicode/utf8"
)

// RecordType is the scored category of a record. The string values are part of
// the wire contract and are stored verbatim.
type RecordType string

const (
	RecordParticipation RecordType = "participacion"
	RecordBehavior      RecordType = "comportamiento"
	RecordPunctuality   RecordType = "puntualidad"
)

// RecordTypes lists the categories in presentation order.
var RecordTypes = []RecordType{RecordParticipation, RecordBehavior, RecordPunctuality}

// Valid reports whether t is one of the known categories.
func (t RecordType) Valid() bool {
	switch t {
	case RecordParticipation, RecordBehavior, RecordPunctuality:
		return true
	default:
		return false
	}
}

// Label returns the display label of the category.
func (t RecordType) Label() string {
	switch t {
	case RecordParticipation:
		return "Participación"
	case RecordBehavior:
		return "Comportamiento"
	case RecordPunctuality:
		return "Puntualidad"
	default:
		return string(t)
	}
}

const (
	MinRecordValue = 1
	MaxRecordValue = 5
	MaxNoteLength  = 500
)

var valueLabels = map[int]string{
	1: "Necesita apoyo",
	2: "En desarrollo",
	3: "Satisfactorio",
	4: "Destacado",
	5: "Excelente",
}

var valueLevels = map[int]string{
	1: "needs-support",
	2: "developing",
	3: "satisfactory",
	4: "outstanding",
	5: "excellent",
}

// ValueLabel returns the rating label for a 1..5 value.
func ValueLabel(value int) string {
	if label, ok := valueLabels[value]; ok {
		return label
	}
	return ""
}

// ValueLevel returns the stable english key for a 1..5 value.
func ValueLevel(value int) string {
	return valueLevels[value]
}

// ValidValue reports whether value is inside the rating scale.
func ValidValue(value int) bool {
	return value >= MinRecordValue && value <= MaxRecordValue
}

// ValidNote reports whether the note fits the stored column.
func ValidNote(note string) bool {
	return utf8.RuneCountInString(note) <= MaxNoteLength
}

// Record is a single score given by a teacher to a student in a course.
// Timestamp, StudentID, CourseID and TeacherID never change after creation.
type Record struct {
	ID        string     `db:"id" json:"id"`
	StudentID string     `db:"student_id" json:"student_id"`
	CourseID  string     `db:"course_id" json:"course_id"`
	TeacherID string     `db:"teacher_id" json:"teacher_id"`
	Type      RecordType `db:"type" json:"type"`
	Value     int        `db:"value" json:"value"`
	Note      string     `db:"note" json:"note"`
	Timestamp time.Time  `db:"recorded_at" json:"timestamp"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// RecordPatch carries the editable fields of a record. Nil fields are left untouched.
type RecordPatch struct {
	Type  *RecordType `json:"type,omitempty"`
	Value *int        `json:"value,omitempty"`
	Note  *string     `json:"note,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p RecordPatch) Empty() bool {
	return p.Type == nil && p.Value == nil && p.Note == nil
}

// Apply returns a copy of r with the patch applied.
func (p RecordPatch) Apply(r Record) Record {
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Value != nil {
		r.Value = *p.Value
	}
	if p.Note != nil {
		r.Note = *p.Note
	}
	return r
}

// RecordFilter selects the records of a live or one-shot query. An empty
// filter matches every record.
type RecordFilter struct {
	StudentID string     `json:"student_id,omitempty"`
	CourseID  string     `json:"course_id,omitempty"`
	Since     *time.Time `json:"-"`
}

// ByCourse selects every record of a course.
func ByCourse(courseID string) RecordFilter {
	return RecordFilter{CourseID: courseID}
}

// ByStudent selects every record of a student across courses.
func ByStudent(studentID string) RecordFilter {
	return RecordFilter{StudentID: studentID}
}

// ByStudentAndCourse selects a student's records within one course.
func ByStudentAndCourse(studentID, courseID string) RecordFilter {
	return RecordFilter{StudentID: studentID, CourseID: courseID}
}

// Keyed reports whether the filter names a student or a course.
func (f RecordFilter) Keyed() bool {
	return f.StudentID != "" || f.CourseID != ""
}

// Matches reports whether a record with the given identity belongs to the filter.
func (f RecordFilter) Matches(studentID, courseID string) bool {
	if f.StudentID != "" && f.StudentID != studentID {
		return false
	}
	if f.CourseID != "" && f.CourseID != courseID {
		return false
	}
	return true
}

// String renders the filter as a stable key.
func (f RecordFilter) String() string {
	switch {
	case f.StudentID != "" && f.CourseID != "":
		return "student:" + f.StudentID + ":course:" + f.CourseID
	case f.StudentID != "":
		return "student:" + f.StudentID
	case f.CourseID != "":
		return "course:" + f.CourseID
	default:
		return "all"
	}
}

// ChangeOp names the mutation that produced a change event.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
)

// RecordChange is published after every successful record write. Deletes that
// cascade from a student or course emit one change per student and course
// pair, without a RecordID.
type RecordChange struct {
	Op        ChangeOp  `json:"op"`
	RecordID  string    `json:"record_id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	At        time.Time `json:"at"`
}

// BulkFailure describes one student whose record could not be written.
type BulkFailure struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
	Err       error  `json:"-"`
}

// BulkResult reports the outcome of a bulk write.
type BulkResult struct {
	Total     int           `json:"total"`
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
	Records   []Record      `json:"records,omitempty"`
}
