package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mdraihan27/maildoor/internal/middleware"
	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/internal/service"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/response"
	"github.com/mdraihan27/maildoor/pkg/secrets"
)

// APIKeyHandler exposes key management endpoints for the dashboard.
type APIKeyHandler struct {
	keys  *service.APIKeyService
	audit *service.AuditService
}

// NewAPIKeyHandler constructs APIKeyHandler.
func NewAPIKeyHandler(keys *service.APIKeyService, audit *service.AuditService) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, audit: audit}
}

// keyView is the display projection of a credential. The digest is excluded
// by the model's serialization rules; MaskedKey is derived from the stored
// prefix and suffix.
type keyView struct {
	models.APIKey
	MaskedKey string `json:"masked_key"`
}

func viewOf(key *models.APIKey) keyView {
	return keyView{APIKey: *key, MaskedKey: secrets.Masked(key.Prefix, key.Suffix)}
}

// Create godoc
// @Summary Issue a new API key
// @Tags API Keys
// @Accept json
// @Produce json
// @Param payload body service.IssueKeyInput true "Key payload"
// @Success 201 {object} response.Envelope
// @Router /keys [post]
func (h *APIKeyHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var input service.IssueKeyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	key, raw, err := h.keys.Issue(c.Request.Context(), claims.UserID, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.recordKeyEvent(c, claims, key, models.AuditActionKeyCreated)

	// The raw secret is returned exactly once and is unrecoverable afterwards.
	response.Created(c, gin.H{
		"key":     viewOf(key),
		"api_key": raw,
		"notice":  "store this key now; it cannot be shown again",
	})
}

// List godoc
// @Summary List the caller's API keys
// @Tags API Keys
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /keys [get]
func (h *APIKeyHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, size := pageParams(c)
	keys, pagination, err := h.keys.ListByOwner(c.Request.Context(), claims.UserID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]keyView, 0, len(keys))
	for i := range keys {
		views = append(views, viewOf(&keys[i]))
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Get godoc
// @Summary Get one API key
// @Tags API Keys
// @Produce json
// @Param id path string true "Key ID"
// @Success 200 {object} response.Envelope
// @Router /keys/{id} [get]
func (h *APIKeyHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	key, err := h.keys.Get(c.Request.Context(), claims.UserID, c.Param("id"), middleware.IsAdmin(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, viewOf(key), nil)
}

// Revoke godoc
// @Summary Revoke an API key
// @Tags API Keys
// @Produce json
// @Param id path string true "Key ID"
// @Success 200 {object} response.Envelope
// @Router /keys/{id}/revoke [post]
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	key, err := h.keys.Revoke(c.Request.Context(), claims.UserID, c.Param("id"), middleware.IsAdmin(claims))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.recordKeyEvent(c, claims, key, models.AuditActionKeyRevoked)
	response.JSON(c, http.StatusOK, viewOf(key), nil)
}

// Delete godoc
// @Summary Delete an API key
// @Tags API Keys
// @Param id path string true "Key ID"
// @Success 204
// @Router /keys/{id} [delete]
func (h *APIKeyHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	keyID := c.Param("id")
	if err := h.keys.Delete(c.Request.Context(), claims.UserID, keyID, middleware.IsAdmin(claims)); err != nil {
		response.Error(c, err)
		return
	}

	h.recordKeyEvent(c, claims, &models.APIKey{ID: keyID}, models.AuditActionKeyDeleted)
	response.NoContent(c)
}

func (h *APIKeyHandler) recordKeyEvent(c *gin.Context, claims *models.JWTClaims, key *models.APIKey, action models.AuditAction) {
	if h.audit == nil {
		return
	}
	resource := "api_key"
	outcome := models.AuditOutcomeSuccess
	h.audit.LogFromContext(c, models.AuditLog{
		Actor:      &claims.UserID,
		Action:     action,
		Resource:   &resource,
		ResourceID: &key.ID,
		Outcome:    &outcome,
	})
}
