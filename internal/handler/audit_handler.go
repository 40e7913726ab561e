package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/internal/service"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/response"
)

// AuditHandler exposes audit trail endpoints for the dashboard.
type AuditHandler struct {
	audits  *service.AuditService
	exports *service.ExportService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audits *service.AuditService, exports *service.ExportService) *AuditHandler {
	return &AuditHandler{audits: audits, exports: exports}
}

func auditFilterFromQuery(c *gin.Context) models.AuditFilter {
	var filter models.AuditFilter
	filter.Actor = strings.TrimSpace(c.Query("actor"))
	filter.Action = models.AuditAction(c.Query("action"))
	filter.Category = models.AuditCategory(c.Query("category"))
	filter.IP = strings.TrimSpace(c.Query("ip"))
	filter.Outcome = models.AuditOutcome(c.Query("outcome"))
	filter.Page, filter.PageSize = pageParams(c)
	return filter
}

// ListMine godoc
// @Summary List the caller's own audit history
// @Tags Audit
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit/me [get]
func (h *AuditHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, size := pageParams(c)
	entries, pagination, err := h.audits.ListByActor(c.Request.Context(), claims.UserID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// List godoc
// @Summary List audit entries (admin)
// @Tags Audit
// @Produce json
// @Param actor query string false "Filter by actor"
// @Param action query string false "Filter by action"
// @Param category query string false "Filter by category"
// @Param ip query string false "Filter by IP"
// @Param outcome query string false "Filter by outcome"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	entries, pagination, err := h.audits.List(c.Request.Context(), auditFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Trail godoc
// @Summary List every audit entry for one request ID (admin)
// @Tags Audit
// @Produce json
// @Param requestId path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /admin/audit/trail/{requestId} [get]
func (h *AuditHandler) Trail(c *gin.Context) {
	entries, err := h.audits.Trail(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Export godoc
// @Summary Export audit entries as CSV or PDF (admin)
// @Tags Audit
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /admin/audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	doc, err := h.exports.ExportAudit(c.Request.Context(), auditFilterFromQuery(c), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if doc.DownloadToken != "" {
		c.Header("X-Download-Token", doc.DownloadToken)
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// Download godoc
// @Summary Re-download an archived export by signed token
// @Tags Audit
// @Param token query string true "Download token"
// @Success 200 {file} binary
// @Router /admin/audit/export/download [get]
func (h *AuditHandler) Download(c *gin.Context) {
	file, filename, err := h.exports.OpenArchived(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	contentType := "text/csv"
	if strings.HasSuffix(filename, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
