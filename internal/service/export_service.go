package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/stats"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
	"github.com/noah-isme/sma-progress-api/pkg/export"
)

// ReportFormat names an export file format.
type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatPDF  ReportFormat = "pdf"
	ReportFormatXLSX ReportFormat = "xlsx"
)

var reportContentTypes = map[ReportFormat]string{
	ReportFormatCSV:  "text/csv; charset=utf-8",
	ReportFormatPDF:  "application/pdf",
	ReportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

type studentReader interface {
	Get(ctx context.Context, id string) (*models.Student, error)
}

type reportRenderer interface {
	Render(report export.Report) ([]byte, error)
}

// ExportFile is a rendered report ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders student progress reports.
type ExportService struct {
	students  studentReader
	records   recordLister
	renderers map[ReportFormat]reportRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService with the CSV, PDF and XLSX
// exporters. overrides replaces the renderer of individual formats.
func NewExportService(students studentReader, records recordLister, logger *zap.Logger, overrides map[ReportFormat]reportRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	renderers := map[ReportFormat]reportRenderer{
		ReportFormatCSV:  export.NewCSVExporter(),
		ReportFormatPDF:  export.NewPDFExporter(),
		ReportFormatXLSX: export.NewXLSXExporter(),
	}
	for format, r := range overrides {
		renderers[format] = r
	}
	return &ExportService{students: students, records: records, renderers: renderers, logger: logger, now: time.Now}
}

// StudentReport renders the records and aggregate of a student, optionally
// restricted to one course.
func (s *ExportService) StudentReport(ctx context.Context, studentID, courseID string, format ReportFormat) (*ExportFile, error) {
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}

	student, err := s.students.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	filter := models.ByStudent(studentID)
	if courseID != "" {
		filter = models.ByStudentAndCourse(studentID, courseID)
	}
	records, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}

	generatedAt := s.now()
	report := buildProgressReport(student, courseID, records, generatedAt)
	payload, err := renderer.Render(report)
	if err != nil {
		s.logger.Error("render progress report", zap.String("student_id", studentID), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	return &ExportFile{
		Filename:    reportFilename(student.Name, generatedAt, format),
		ContentType: contentTypeFor(format),
		Payload:     payload,
	}, nil
}

func buildProgressReport(student *models.Student, courseID string, records []models.Record, generatedAt time.Time) export.Report {
	agg := stats.ComputeStats(records)
	summary := []export.Field{
		{Label: "Estudiante", Value: student.Name},
		{Label: "Apoderado", Value: student.ParentEmail},
	}
	if courseID != "" {
		summary = append(summary, export.Field{Label: "Curso", Value: courseID})
	}
	summary = append(summary,
		export.Field{Label: "Registros", Value: strconv.Itoa(len(records))},
		export.Field{Label: "Promedio general", Value: formatAverage(stats.OverallAverage(agg))},
	)
	for _, t := range models.RecordTypes {
		cat := agg.Get(t)
		summary = append(summary, export.Field{
			Label: t.Label(),
			Value: fmt.Sprintf("%s (%d)", formatAverage(cat.Average), cat.Count),
		})
	}

	// newest first, the order teachers read a progress sheet in
	sorted := append([]models.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	headers := []string{"Fecha", "Curso", "Categoría", "Valor", "Nivel", "Observación"}
	rows := make([]map[string]string, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, map[string]string{
			"Fecha":       r.Timestamp.Format("2006-01-02 15:04"),
			"Curso":       r.CourseID,
			"Categoría":   r.Type.Label(),
			"Valor":       strconv.Itoa(r.Value),
			"Nivel":       models.ValueLabel(r.Value),
			"Observación": r.Note,
		})
	}

	return export.Report{
		Title:       "Informe de progreso",
		Summary:     summary,
		Data:        export.Dataset{Headers: headers, Rows: rows},
		GeneratedAt: generatedAt,
	}
}

func formatAverage(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func contentTypeFor(format ReportFormat) string {
	if ct, ok := reportContentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

func reportFilename(name string, at time.Time, format ReportFormat) string {
	return fmt.Sprintf("progreso_%s_%s.%s", sanitizeFilename(name), at.UTC().Format("20060102_150405"), format)
}

func sanitizeFilename(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "\"", "")
	result := replacer.Replace(raw)
	if len(result) > 60 {
		return result[:60]
	}
	return result
}
