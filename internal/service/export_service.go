package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/export"
	"github.com/noah-isme/edunotice/pkg/storage"
)

// Signed token kinds.
const (
	GrantKindDigest = "digest"
	GrantKindCrawl  = "crawl"
)

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(sections []export.Section) ([]byte, error)
}

type pdfRenderer interface {
	Render(title string, sections []export.Section) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	Retention time.Duration
}

// ExportResult describes a stored digest export.
type ExportResult struct {
	RelativePath string              `json:"path"`
	Token        string              `json:"token"`
	URL          string              `json:"url"`
	Format       models.ExportFormat `json:"format"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// ExportService renders digests to CSV or PDF and hands out signed download links.
type ExportService struct {
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// ParseFormat validates a user supplied format name.
func ParseFormat(raw string) (models.ExportFormat, error) {
	switch models.ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case models.ExportFormatCSV:
		return models.ExportFormatCSV, nil
	case models.ExportFormatPDF:
		return models.ExportFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
	}
}

// Export renders the digest and stores it under digests/.
func (s *ExportService) Export(digest models.Digest, format models.ExportFormat) (*ExportResult, error) {
	sections := DigestSections(digest)

	var (
		payload []byte
		err     error
	)
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(sections)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(digestTitle(digest), sections)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(digestFilename(digest, format), payload)
	if err != nil {
		return nil, err
	}
	result := &ExportResult{RelativePath: relPath, Format: format}
	if s.signer != nil {
		token, expiresAt, err := s.signer.Generate(GrantKindDigest, relPath)
		if err != nil {
			return nil, err
		}
		result.Token = token
		result.ExpiresAt = expiresAt
		result.URL = s.DownloadURL(token)
	}
	s.logger.Info("digest exported", zap.String("path", relPath), zap.String("format", string(format)))
	return result, nil
}

// DownloadURL builds the API path serving a signed token.
func (s *ExportService) DownloadURL(token string) string {
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/exports/%s", prefix, token)
}

// Resolve validates a download token and opens the file it grants.
func (s *ExportService) Resolve(token string) (*os.File, storage.Grant, error) {
	if s.signer == nil {
		return nil, storage.Grant{}, appErrors.Clone(appErrors.ErrNotFound, "downloads disabled")
	}
	grant, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, storage.Grant{}, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, err.Error())
	}
	file, err := s.storage.Open(grant.Path)
	if err != nil {
		return nil, storage.Grant{}, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	return file, grant, nil
}

// Cleanup removes stored files past the retention window.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.Retention
	}
	deleted, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

// DigestSections flattens a digest into the tables shared by both formats.
func DigestSections(digest models.Digest) []export.Section {
	entryRows := func(entries []models.DigestEntry, withPrevious bool) [][]string {
		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			row := []string{
				entry.GUID,
				entry.Current.SubscriptionName,
				entry.Course,
				entry.Lab,
				entry.Current.SubscriptionStatus,
				FormatCurrency(entry.Current.HandoutBudget),
				FormatCurrency(entry.Current.HandoutConsumed),
				entry.Current.SubscriptionExpiryDate.Format(expiryDateLayout),
			}
			if withPrevious {
				previous := ""
				if entry.Before != nil {
					previous = entry.Before.SubscriptionStatus
				}
				row = append(row, previous)
			}
			rows = append(rows, row)
		}
		return rows
	}
	headers := []string{"GUID", "Name", "Course", "Lab", "Status", "Budget", "Consumed", "Expiry date"}

	notices := make([][]string, 0, len(digest.Notices))
	for _, notice := range digest.Notices {
		notices = append(notices, []string{
			notice.SubscriptionGUID,
			notice.SubscriptionName,
			string(notice.Kind),
			notice.Label,
			notice.SentAt.UTC().Format(time.RFC3339),
		})
	}

	return []export.Section{
		{Heading: "New subscriptions", Table: export.Table{Headers: headers, Rows: entryRows(digest.New, false)}},
		{Heading: "Updated subscriptions", Table: export.Table{Headers: append(append([]string{}, headers...), "Previous status"), Rows: entryRows(digest.Updated, true)}},
		{Heading: "Notifications sent", Table: export.Table{Headers: []string{"GUID", "Name", "Kind", "Label", "Sent at"}, Rows: notices}},
	}
}

func digestTitle(digest models.Digest) string {
	return fmt.Sprintf("%s: %s to %s", subjectSummary,
		digest.From.UTC().Format("2006-01-02 15:04"), digest.To.UTC().Format("2006-01-02 15:04"))
}

func digestFilename(digest models.Digest, format models.ExportFormat) string {
	return fmt.Sprintf("digests/digest_%s_%s.%s",
		digest.To.UTC().Format("20060102_150405"), strconv.FormatInt(digest.From.Unix(), 10), format)
}
