package export

import "fmt"

// Table is the tabular content shared by every export format.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Section groups tables rendered into one document.
type Section struct {
	Heading string
	Table   Table
}

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return fmt.Errorf("table %q requires at least one header", t.Title)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return fmt.Errorf("table %q row %d has %d cells, want %d", t.Title, i+1, len(row), len(t.Headers))
		}
	}
	return nil
}
