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

// UserHandler exposes account endpoints for the dashboard.
type UserHandler struct {
	users *service.UserService
	audit *service.AuditService
}

// NewUserHandler constructs UserHandler.
func NewUserHandler(users *service.UserService, audit *service.AuditService) *UserHandler {
	return &UserHandler{users: users, audit: audit}
}

// Me godoc
// @Summary Get the caller's account
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// UpdateMe godoc
// @Summary Update the caller's profile
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.UpdateProfileInput true "Profile payload"
// @Success 200 {object} response.Envelope
// @Router /users/me [put]
func (h *UserHandler) UpdateMe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var input service.UpdateProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), claims.UserID, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.recordUserEvent(c, claims.UserID, user.ID, models.AuditActionUserUpdated)
	response.JSON(c, http.StatusOK, user, nil)
}

type appPasswordRequest struct {
	// 16 characters once spaces are removed; the service enforces the length.
	AppPassword string `json:"app_password" binding:"required"`
}

// SetAppPassword godoc
// @Summary Store the caller's Gmail app password (encrypted at rest)
// @Tags Users
// @Accept json
// @Success 204
// @Router /users/me/app-password [put]
func (h *UserHandler) SetAppPassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req appPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.users.SetAppPassword(c.Request.Context(), claims.UserID, req.AppPassword); err != nil {
		response.Error(c, err)
		return
	}

	h.recordUserEvent(c, claims.UserID, claims.UserID, models.AuditActionUserUpdated)
	response.NoContent(c)
}

// RemoveAppPassword godoc
// @Summary Remove the caller's stored app password
// @Tags Users
// @Success 204
// @Router /users/me/app-password [delete]
func (h *UserHandler) RemoveAppPassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.users.RemoveAppPassword(c.Request.Context(), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	h.recordUserEvent(c, claims.UserID, claims.UserID, models.AuditActionUserUpdated)
	response.NoContent(c)
}

// List godoc
// @Summary List accounts (admin)
// @Tags Users
// @Produce json
// @Param role query string false "Filter by role"
// @Param status query string false "Filter by status"
// @Param search query string false "Search by name or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/users [get]
func (h *UserHandler) List(c *gin.Context) {
	var filter models.UserFilter
	if role := models.UserRole(c.Query("role")); role != "" && models.ValidRole(role) {
		filter.Role = &role
	}
	if status := models.UserStatus(c.Query("status")); status == models.UserStatusActive || status == models.UserStatusSuspended {
		filter.Status = &status
	}
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	users, pagination, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get one account (admin)
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

type changeRoleRequest struct {
	Role models.UserRole `json:"role"`
}

// ChangeRole godoc
// @Summary Change an account's role (superadmin)
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body changeRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id}/role [put]
func (h *UserHandler) ChangeRole(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user, err := h.users.ChangeRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.recordUserEvent(c, claims.UserID, user.ID, models.AuditActionUserRoleChanged)
	response.JSON(c, http.StatusOK, user, nil)
}

// Suspend godoc
// @Summary Suspend an account (admin)
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id}/suspend [post]
func (h *UserHandler) Suspend(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.Suspend(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.recordUserEvent(c, claims.UserID, user.ID, models.AuditActionUserSuspended)
	response.JSON(c, http.StatusOK, user, nil)
}

// Reactivate godoc
// @Summary Reactivate a suspended account (admin)
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id}/reactivate [post]
func (h *UserHandler) Reactivate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.Reactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.recordUserEvent(c, claims.UserID, user.ID, models.AuditActionUserReactivated)
	response.JSON(c, http.StatusOK, user, nil)
}

func (h *UserHandler) recordUserEvent(c *gin.Context, actorID, targetID string, action models.AuditAction) {
	if h.audit == nil {
		return
	}
	resource := "user"
	outcome := models.AuditOutcomeSuccess
	h.audit.LogFromContext(c, models.AuditLog{
		Actor:      &actorID,
		Action:     action,
		Resource:   &resource,
		ResourceID: &targetID,
		Outcome:    &outcome,
	})
}
