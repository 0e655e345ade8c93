package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleReport() Report {
	return Report{
		Title:   "Informe de progreso",
		Summary: []Field{{Label: "Estudiante", Value: "Ana Núñez"}, {Label: "Promedio", Value: "4.25"}},
		Data: Dataset{
			Headers: []string{"Fecha", "Categoría", "Valor"},
			Rows: []map[string]string{
				{"Fecha": "2024-05-01", "Categoría": "Participación", "Valor": "5"},
				{"Fecha": "2024-05-02", "Categoría": "Puntualidad", "Valor": "3"},
			},
		},
		GeneratedAt: time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC),
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleReport())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, utf8BOM))

	body := string(out[len(utf8BOM):])
	assert.Contains(t, body, "Informe de progreso\n")
	assert.Contains(t, body, "Estudiante,Ana Núñez\n")
	assert.Contains(t, body, "Fecha,Categoría,Valor\n2024-05-01,Participación,5\n2024-05-02,Puntualidad,3\n")
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Report{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleReport())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPDFExporterRequiresHeaders(t *testing.T) {
	_, err := NewPDFExporter().Render(Report{Title: "empty"})
	assert.Error(t, err)
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, []string{"Informe de progreso"}, rows[0])
	assert.Equal(t, []string{"Estudiante", "Ana Núñez"}, rows[2])
	assert.Equal(t, []string{"Fecha", "Categoría", "Valor"}, rows[5])
	assert.Equal(t, []string{"2024-05-02", "Puntualidad", "3"}, rows[7])
}

func TestXLSXExporterRequiresHeaders(t *testing.T) {
	_, err := NewXLSXExporter().Render(Report{Title: "empty"})
	assert.Error(t, err)
}
