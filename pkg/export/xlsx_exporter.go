package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Progreso"

// XLSXExporter renders reports into an Excel workbook with a single sheet.
type XLSXExporter struct{}

// NewXLSXExporter builds an Excel exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render lays out the title, the summary block and the table on one sheet.
func (e *XLSXExporter) Render(report Report) ([]byte, error) {
	if len(report.Data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#2F5597"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	row := 1
	if report.Title != "" {
		if err := f.SetCellValue(xlsxSheet, cellName(1, row), report.Title); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(xlsxSheet, cellName(1, row), cellName(1, row), bold)
		row += 2
	}
	for _, field := range report.Summary {
		if err := f.SetSheetRow(xlsxSheet, cellName(1, row), &[]string{field.Label, field.Value}); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
		_ = f.SetCellStyle(xlsxSheet, cellName(1, row), cellName(1, row), bold)
		row++
	}
	if len(report.Summary) > 0 {
		row++
	}

	headers := report.Data.Headers
	if err := f.SetSheetRow(xlsxSheet, cellName(1, row), &headers); err != nil {
		return nil, fmt.Errorf("write headers: %w", err)
	}
	_ = f.SetCellStyle(xlsxSheet, cellName(1, row), cellName(len(headers), row), header)
	row++
	for _, data := range report.Data.Rows {
		values := make([]string, len(headers))
		for i, h := range headers {
			values[i] = data[h]
		}
		if err := f.SetSheetRow(xlsxSheet, cellName(1, row), &values); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
		row++
	}

	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(xlsxSheet, "A", last, 20)

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
