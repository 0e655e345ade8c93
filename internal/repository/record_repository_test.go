package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var recordRowColumns = []string{"id", "student_id", "course_id", "teacher_id", "type", "value", "note", "recorded_at", "updated_at"}

func TestRecordRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectExec("INSERT INTO records").
		WithArgs(sqlmock.AnyArg(), "s1", "c1", "t1", "participacion", 4, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.Record{StudentID: "s1", CourseID: "c1", TeacherID: "t1", Type: models.RecordParticipation, Value: 4}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryListByFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	now := time.Now()
	since := now.Add(-24 * time.Hour)
	rows := sqlmock.NewRows(recordRowColumns).
		AddRow("r1", "s1", "c1", "t1", "comportamiento", 5, "bien", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, teacher_id, type, value, note, recorded_at, updated_at FROM records WHERE student_id = $1 AND course_id = $2 AND recorded_at >= $3 ORDER BY recorded_at ASC, id ASC")).
		WithArgs("s1", "c1", since.UTC()).
		WillReturnRows(rows)

	filter := models.ByStudentAndCourse("s1", "c1")
	filter.Since = &since
	records, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RecordBehavior, records[0].Type)
	assert.Equal(t, 5, records[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryListAll(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM records ORDER BY recorded_at ASC, id ASC")).
		WillReturnRows(sqlmock.NewRows(recordRowColumns))

	records, err := repo.List(context.Background(), models.RecordFilter{})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryUpdatePatchesEditableFields(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE records SET value = $1, note = $2, updated_at = $3 WHERE id = $4 RETURNING id, student_id")).
		WithArgs(2, "llegó tarde", sqlmock.AnyArg(), "r1").
		WillReturnRows(sqlmock.NewRows(recordRowColumns).
			AddRow("r1", "s1", "c1", "t1", "puntualidad", 2, "llegó tarde", now.Add(-time.Hour), now))

	value, note := 2, "llegó tarde"
	record, err := repo.Update(context.Background(), "r1", models.RecordPatch{Value: &value, Note: &note})
	require.NoError(t, err)
	assert.Equal(t, 2, record.Value)
	assert.Equal(t, models.RecordPunctuality, record.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery("UPDATE records SET").WillReturnError(sql.ErrNoRows)

	typ := models.RecordBehavior
	_, err := repo.Update(context.Background(), "missing", models.RecordPatch{Type: &typ})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records WHERE id = $1")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "r1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery("FROM records WHERE id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
