package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

const recordColumns = `id, student_id, course_id, teacher_id, type, value, note, recorded_at, updated_at`

// RecordRepository persists progress records.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository constructs a RecordRepository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create inserts a record, assigning an id and timestamps when missing.
func (r *RecordRepository) Create(ctx context.Context, record *models.Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.Timestamp.IsZero() {
		record.Timestamp = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO records (id, student_id, course_id, teacher_id, type, value, note, recorded_at, updated_at)
        VALUES (:id, :student_id, :course_id, :teacher_id, :type, :value, :note, :recorded_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// FindByID returns a record by id or sql.ErrNoRows.
func (r *RecordRepository) FindByID(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`
	var record models.Record
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &record, nil
}

// Update applies patch to a record and returns the stored result. Identity
// and recorded_at are never touched. Returns sql.ErrNoRows for unknown ids.
func (r *RecordRepository) Update(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error) {
	var sets []string
	var args []interface{}

	if patch.Type != nil {
		sets = append(sets, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *patch.Type)
	}
	if patch.Value != nil {
		sets = append(sets, fmt.Sprintf("value = $%d", len(args)+1))
		args = append(args, *patch.Value)
	}
	if patch.Note != nil {
		sets = append(sets, fmt.Sprintf("note = $%d", len(args)+1))
		args = append(args, *patch.Note)
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE records SET %s WHERE id = $%d RETURNING %s`, strings.Join(sets, ", "), len(args), recordColumns)
	var record models.Record
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update record: %w", err)
	}
	return &record, nil
}

// Delete removes a record. Returns sql.ErrNoRows when nothing was deleted.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return expectAffected(res)
}

// List returns the records matching filter, oldest first.
func (r *RecordRepository) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("recorded_at >= $%d", len(args)+1))
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY recorded_at ASC, id ASC"

	records := make([]models.Record, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
