package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

const expiryDateLayout = "2006-01-02"

var crawlTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// CrawlParser turns crawler output into validated rows.
type CrawlParser struct {
	validator *validator.Validate
}

// NewCrawlParser constructs a parser.
func NewCrawlParser(v *validator.Validate) *CrawlParser {
	if v == nil {
		v = validator.New()
	}
	return &CrawlParser{validator: v}
}

// ParseCSV reads a delimited crawl file. It fails with an input error for non-tabular or
// empty input and with a schema error naming the first missing column.
func (p *CrawlParser) ParseCSV(r io.Reader) ([]models.CrawlRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, appErrors.Clone(appErrors.ErrInput, "crawl file is empty")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInput.Code, appErrors.ErrInput.Status, "crawl file is not tabular")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if err := CheckColumns(keys(index)); err != nil {
		return nil, err
	}

	var rows []models.CrawlRow
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInput.Code, appErrors.ErrInput.Status, fmt.Sprintf("read crawl row %d", line))
		}
		if len(record) < len(header) {
			return nil, appErrors.Clone(appErrors.ErrInput, fmt.Sprintf("crawl row %d has %d fields, expected %d", line, len(record), len(header)))
		}
		row, err := p.parseRecord(record, index)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInput.Code, appErrors.ErrInput.Status, fmt.Sprintf("crawl row %d", line))
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInput, "crawl file has no rows")
	}
	return rows, nil
}

// ValidateRows checks every in-memory row against its struct constraints.
func (p *CrawlParser) ValidateRows(rows []models.CrawlRow) error {
	if len(rows) == 0 {
		return appErrors.Clone(appErrors.ErrInput, "crawl batch has no rows")
	}
	for i := range rows {
		if err := p.validator.Struct(rows[i]); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInput.Code, appErrors.ErrInput.Status, fmt.Sprintf("crawl row %d", i+1))
		}
	}
	return nil
}

func (p *CrawlParser) parseRecord(record []string, index map[string]int) (models.CrawlRow, error) {
	field := func(column string) string {
		return strings.TrimSpace(record[index[column]])
	}

	budget, err := ParseCurrency(field(models.ColumnHandoutBudget))
	if err != nil {
		return models.CrawlRow{}, fmt.Errorf("%s: %w", models.ColumnHandoutBudget, err)
	}
	consumed, err := ParseCurrency(field(models.ColumnHandoutConsumed))
	if err != nil {
		return models.CrawlRow{}, fmt.Errorf("%s: %w", models.ColumnHandoutConsumed, err)
	}
	expiry, err := time.Parse(expiryDateLayout, field(models.ColumnSubscriptionExpiry))
	if err != nil {
		return models.CrawlRow{}, fmt.Errorf("%s: %w", models.ColumnSubscriptionExpiry, err)
	}
	crawled, err := ParseCrawlTime(field(models.ColumnCrawlTimeUTC))
	if err != nil {
		return models.CrawlRow{}, fmt.Errorf("%s: %w", models.ColumnCrawlTimeUTC, err)
	}

	row := models.CrawlRow{
		CourseName:         field(models.ColumnCourseName),
		LabName:            field(models.ColumnLabName),
		HandoutName:        field(models.ColumnHandoutName),
		HandoutBudget:      budget,
		HandoutConsumed:    consumed,
		HandoutStatus:      field(models.ColumnHandoutStatus),
		SubscriptionID:     field(models.ColumnSubscriptionID),
		SubscriptionName:   field(models.ColumnSubscriptionName),
		SubscriptionStatus: field(models.ColumnSubscriptionStatus),
		ExpiryDate:         expiry,
		Users:              NormalizeUsers(field(models.ColumnSubscriptionUsers)),
		CrawlTimeUTC:       crawled,
	}
	if err := p.validator.Struct(row); err != nil {
		return models.CrawlRow{}, err
	}
	return row, nil
}

// CheckColumns returns a schema error naming the first required column absent from columns.
func CheckColumns(columns []string) error {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	for _, required := range models.RequiredColumns {
		if _, ok := present[required]; !ok {
			return appErrors.Clone(appErrors.ErrSchema, fmt.Sprintf("missing column: %s", required))
		}
	}
	return nil
}

// ParseCurrency parses values such as "$1,234.56". An empty value is zero.
func ParseCurrency(raw string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if cleaned == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

// ParseCrawlTime accepts RFC 3339 and the space-separated layouts crawlers emit, in UTC.
func ParseCrawlTime(raw string) (time.Time, error) {
	for _, layout := range crawlTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// NormalizeUsers turns a list literal such as "['a@x', 'b@y']" or a comma-joined string into "a@x, b@y".
func NormalizeUsers(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	parts := strings.Split(trimmed, ",")
	users := make([]string, 0, len(parts))
	for _, part := range parts {
		user := strings.Trim(strings.TrimSpace(part), `'"`)
		if user != "" {
			users = append(users, user)
		}
	}
	return strings.Join(users, ", ")
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
