// Package export renders progress reports as CSV or PDF.
package export

import "time"

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Field is a labelled summary value printed above the table.
type Field struct {
	Label string
	Value string
}

// Report is a titled document with a summary block and a table.
type Report struct {
	Title       string
	Summary     []Field
	Data        Dataset
	GeneratedAt time.Time
}
