package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/export"
	"github.com/mdraihan27/maildoor/pkg/storage"
)

// exportMaxEntries bounds one export so a wide-open filter cannot pull the
// whole table into memory.
const exportMaxEntries = 5000

var auditExportHeaders = []string{
	"Timestamp", "Action", "Category", "Severity", "Outcome",
	"Actor", "Target", "IP", "Request ID",
}

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// ExportDocument is a rendered export ready to stream to the client. When an
// archive is configured, DownloadToken grants a sessionless re-download of
// the same document until it is cleaned up.
type ExportDocument struct {
	Filename      string
	ContentType   string
	Body          []byte
	DownloadToken string
}

// ExportService renders audit history into downloadable CSV or PDF documents
// for the admin dashboard.
type ExportService struct {
	audits  auditReader
	archive *storage.Archive
	signer  *storage.DownloadSigner
	logger  *zap.Logger
}

func NewExportService(audits auditReader, logger *zap.Logger) *ExportService {
	return &ExportService{audits: audits, logger: logger}
}

// SetArchive enables on-disk retention of rendered exports with signed
// download tokens. Without it exports are render-and-stream only.
func (s *ExportService) SetArchive(archive *storage.Archive, signer *storage.DownloadSigner) {
	s.archive = archive
	s.signer = signer
}

// ExportAudit renders audit entries matching the filter in the given format.
func (s *ExportService) ExportAudit(ctx context.Context, filter models.AuditFilter, format string) (*ExportDocument, error) {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	filter.Page = 1
	filter.PageSize = exportMaxEntries
	entries, total, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to load audit entries")
	}
	if total > len(entries) {
		s.logger.Warn("audit export truncated",
			zap.Int("matched", total), zap.Int("exported", len(entries)))
	}

	dataset := export.Dataset{
		Title:   "Audit Log Export",
		Headers: auditExportHeaders,
		Rows:    make([]map[string]string, 0, len(entries)),
	}
	for i := range entries {
		dataset.Rows = append(dataset.Rows, auditExportRow(&entries[i]))
	}

	body, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, "EXPORT_FAILED", 500, "failed to render export")
	}

	doc := &ExportDocument{
		Filename:    fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Body:        body,
	}
	s.archiveDocument(doc)
	return doc, nil
}

// archiveDocument stores a rendered export and attaches a download token.
// Archive failures degrade to stream-only, never fail the export.
func (s *ExportService) archiveDocument(doc *ExportDocument) {
	if s.archive == nil || s.signer == nil {
		return
	}
	if err := s.archive.Save(doc.Filename, doc.Body); err != nil {
		s.logger.Warn("failed to archive export", zap.String("filename", doc.Filename), zap.Error(err))
		return
	}
	token, _, err := s.signer.Sign(doc.Filename)
	if err != nil {
		s.logger.Warn("failed to sign export download token", zap.Error(err))
		return
	}
	doc.DownloadToken = token
}

// OpenArchived validates a download token and opens the archived document.
func (s *ExportService) OpenArchived(token string) (*os.File, string, error) {
	if s.archive == nil || s.signer == nil {
		return nil, "", appErrors.ErrNotFound
	}
	filename, err := s.signer.Verify(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.archive.Open(filename)
	if err != nil {
		return nil, "", appErrors.ErrNotFound
	}
	return file, filename, nil
}

// CleanupArchivedExports removes archived documents older than the TTL.
// Driven by the job scheduler.
func (s *ExportService) CleanupArchivedExports(ttl time.Duration) (int, error) {
	if s.archive == nil {
		return 0, nil
	}
	deleted, err := s.archive.CleanupOlderThan(ttl)
	if err != nil {
		return 0, err
	}
	if len(deleted) > 0 {
		s.logger.Info("cleaned up archived exports", zap.Int("deleted", len(deleted)))
	}
	return len(deleted), nil
}

func auditExportRow(entry *models.AuditLog) map[string]string {
	row := map[string]string{
		"Timestamp": entry.CreatedAt.UTC().Format(time.RFC3339),
		"Action":    string(entry.Action),
		"Category":  string(entry.Category),
		"Severity":  string(entry.Severity),
	}
	if entry.Outcome != nil {
		row["Outcome"] = string(*entry.Outcome)
	}
	if entry.Actor != nil {
		row["Actor"] = *entry.Actor
	}
	if entry.ResourceID != nil {
		row["Target"] = *entry.ResourceID
	}
	if entry.IP != nil {
		row["IP"] = *entry.IP
	}
	if entry.RequestID != nil {
		row["Request ID"] = *entry.RequestID
	}
	return row
}
