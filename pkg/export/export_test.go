package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestSections() []Section {
	return []Section{
		{Heading: "New subscriptions", Table: Table{
			Headers: []string{"GUID", "Name"},
			Rows:    [][]string{{"sub-1", "Alpha"}, {"sub-2", "Beta"}},
		}},
		{Heading: "Notifications", Table: Table{
			Headers: []string{"GUID", "Kind"},
			Rows:    [][]string{},
		}},
	}
}

func TestCSVExporterWritesSections(t *testing.T) {
	out, err := NewCSVExporter().Render(digestSections())
	require.NoError(t, err)

	reader := csv.NewReader(bytes.NewReader(out))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 6)
	assert.Equal(t, []string{"# New subscriptions"}, records[0])
	assert.Equal(t, []string{"GUID", "Name"}, records[1])
	assert.Equal(t, []string{"sub-2", "Beta"}, records[3])
	assert.Equal(t, []string{"# Notifications"}, records[4])
}

func TestCSVExporterRejectsRaggedRows(t *testing.T) {
	_, err := NewCSVExporter().Render([]Section{{Table: Table{Headers: []string{"a", "b"}, Rows: [][]string{{"1"}}}}})
	require.Error(t, err)

	_, err = NewCSVExporter().Render(nil)
	require.Error(t, err)
}

func TestPDFExporterProducesDocument(t *testing.T) {
	out, err := NewPDFExporter().Render("Activity digest", digestSections())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestColumnWidthsRespectMinimum(t *testing.T) {
	widths := columnWidths(Table{
		Headers: []string{"a", "a much longer header than the other"},
		Rows:    [][]string{{"x", "y"}},
	})
	require.Len(t, widths, 2)
	assert.GreaterOrEqual(t, widths[0], pdfMinColumn)
	assert.Greater(t, widths[1], widths[0])
}
