package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

// MaxImportRows bounds a single spreadsheet import.
const MaxImportRows = 1000

// ImportFormat names the layout of an uploaded roster.
type ImportFormat string

const (
	ImportCSV  ImportFormat = "csv"
	ImportXLSX ImportFormat = "xlsx"
)

var errNoImportRows = appErrors.Clone(appErrors.ErrValidation, "the file must contain a header row and at least one data row")

// rowReader yields spreadsheet rows until io.EOF.
type rowReader interface {
	Read() ([]string, error)
}

// sheetRows replays the rows of the first worksheet of a workbook.
type sheetRows struct {
	rows [][]string
	next int
}

func (s *sheetRows) Read() ([]string, error) {
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

func newRowReader(r io.Reader, format ImportFormat) (rowReader, error) {
	switch format {
	case ImportCSV, "":
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		return reader, nil
	case ImportXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "could not read the workbook")
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "could not read the first worksheet")
		}
		return &sheetRows{rows: rows}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported import format %q", format))
	}
}

type importColumns struct {
	name, email, photo, course int
}

// Import creates students from a CSV or XLSX roster. Rows are processed one
// by one; an invalid row is reported and the remaining rows are still
// imported. The course column is matched against course names
// case-insensitively.
func (s *StudentService) Import(ctx context.Context, r io.Reader, format ImportFormat) (*models.ImportResult, error) {
	reader, err := newRowReader(r, format)
	if err != nil {
		return nil, err
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNoImportRows
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "could not read the file")
	}
	cols := mapImportColumns(header)
	if cols.name < 0 || cols.email < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing required columns: nombre, email_apoderado")
	}

	courses, err := s.importCourses(ctx, cols)
	if err != nil {
		return nil, err
	}

	result := &models.ImportResult{Students: []models.Student{}, Errors: []models.ImportRowError{}}
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Total++
			result.Errors = append(result.Errors, models.ImportRowError{Row: line, Error: err.Error()})
			continue
		}
		if blankRow(row) {
			continue
		}
		result.Total++
		if result.Total > MaxImportRows {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("imports are limited to %d rows", MaxImportRows))
		}

		req := CreateStudentRequest{
			Name:        cell(row, cols.name),
			ParentEmail: cell(row, cols.email),
			PhotoURL:    cell(row, cols.photo),
		}
		if req.Name == "" || !strings.Contains(req.ParentEmail, "@") {
			result.Errors = append(result.Errors, models.ImportRowError{Row: line, Error: "incomplete or invalid data"})
			continue
		}
		if name := cell(row, cols.course); name != "" {
			if id := matchCourse(courses, name); id != "" {
				req.CourseIDs = []string{id}
			}
		}

		student, err := s.Create(ctx, req)
		if err != nil {
			result.Errors = append(result.Errors, models.ImportRowError{Row: line, Error: appErrors.FromError(err).Message})
			continue
		}
		result.Created++
		result.Students = append(result.Students, *student)
	}

	if result.Total == 0 {
		return nil, errNoImportRows
	}
	s.logger.Info("students imported", zap.Int("total", result.Total), zap.Int("created", result.Created), zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *StudentService) importCourses(ctx context.Context, cols importColumns) ([]models.Course, error) {
	if cols.course < 0 || s.courses == nil {
		return nil, nil
	}
	courses, _, err := s.courses.List(ctx, models.CourseFilter{PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}
	return courses, nil
}

func mapImportColumns(header []string) importColumns {
	cols := importColumns{name: -1, email: -1, photo: -1, course: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case strings.Contains(h, "nombre") || h == "name":
			if cols.name < 0 {
				cols.name = i
			}
		case strings.Contains(h, "email") || strings.Contains(h, "apoderado"):
			if cols.email < 0 {
				cols.email = i
			}
		case strings.Contains(h, "foto") || strings.Contains(h, "photo"):
			cols.photo = i
		case strings.Contains(h, "curso") || strings.Contains(h, "course"):
			cols.course = i
		}
	}
	return cols
}

func matchCourse(courses []models.Course, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range courses {
		if strings.Contains(strings.ToLower(c.Name), name) {
			return c.ID
		}
	}
	return ""
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(row[i], `"`))
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
