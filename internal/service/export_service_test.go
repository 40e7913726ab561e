package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
)

func exportFixtures() *fakeAuditStore {
	actor := "user-1"
	ip := "203.0.113.9"
	outcome := models.AuditOutcomeSuccess
	return &fakeAuditStore{entries: []models.AuditLog{
		{
			ID:        "a1",
			Actor:     &actor,
			Action:    models.AuditActionKeyCreated,
			Category:  models.AuditCategoryAPIKey,
			Severity:  models.AuditSeverityInfo,
			IP:        &ip,
			Outcome:   &outcome,
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:        "a2",
			Action:    models.AuditActionEmailSendFailed,
			Category:  models.AuditCategoryEmail,
			Severity:  models.AuditSeverityError,
			CreatedAt: time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC),
		},
	}}
}

func TestExportAuditCSV(t *testing.T) {
	svc := NewExportService(exportFixtures(), zap.NewNop())

	doc, err := svc.ExportAudit(context.Background(), models.AuditFilter{}, "csv")
	require.NoError(t, err)

	assert.Equal(t, "text/csv", doc.ContentType)
	assert.True(t, strings.HasPrefix(doc.Filename, "audit-"))
	assert.True(t, strings.HasSuffix(doc.Filename, ".csv"))

	body := string(doc.Body)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Timestamp")
	assert.Contains(t, body, "APIKEY_CREATED")
	assert.Contains(t, body, "203.0.113.9")
	assert.Contains(t, body, "EMAIL_SEND_FAILED")
}

func TestExportAuditPDF(t *testing.T) {
	svc := NewExportService(exportFixtures(), zap.NewNop())

	doc, err := svc.ExportAudit(context.Background(), models.AuditFilter{}, "pdf")
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, strings.HasSuffix(doc.Filename, ".pdf"))
	require.NotEmpty(t, doc.Body)
	assert.Equal(t, "%PDF", string(doc.Body[:4]))
}

func TestExportAuditUnknownFormat(t *testing.T) {
	svc := NewExportService(exportFixtures(), zap.NewNop())

	_, err := svc.ExportAudit(context.Background(), models.AuditFilter{}, "xlsx")
	require.Error(t, err)
}

func TestExportAuditDefaultsToCSV(t *testing.T) {
	svc := NewExportService(exportFixtures(), zap.NewNop())

	doc, err := svc.ExportAudit(context.Background(), models.AuditFilter{}, "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", doc.ContentType)
}
