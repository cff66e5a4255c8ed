package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter writes sections one after another, each preceded by its heading row.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV bytes.
func (e *CSVExporter) Render(sections []Section) ([]byte, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("csv requires at least one section")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	for _, section := range sections {
		if err := section.Table.validate(); err != nil {
			return nil, err
		}
		if section.Heading != "" {
			if err := writer.Write([]string{"# " + section.Heading}); err != nil {
				return nil, fmt.Errorf("write csv heading: %w", err)
			}
		}
		if err := writer.Write(section.Table.Headers); err != nil {
			return nil, fmt.Errorf("write csv headers: %w", err)
		}
		if err := writer.WriteAll(section.Table.Rows); err != nil {
			return nil, fmt.Errorf("write csv rows: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
