package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mdraihan27/maildoor/internal/middleware"
	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/internal/service"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/jobs"
	"github.com/mdraihan27/maildoor/pkg/response"
)

// DeliverEmailJob is the queue job type for accepted relay messages. The
// delivery transport is a collaborator concern; this service only
// authenticates, audits and enqueues.
const DeliverEmailJob = "email.deliver"

// RelayMessage is a relay payload accepted for delivery.
type RelayMessage struct {
	OwnerID string `json:"owner_id"`
	To      string `json:"to" binding:"required,email"`
	Subject string `json:"subject" binding:"required,max=200"`
	Body    string `json:"body" binding:"required"`
	HTML    bool   `json:"html"`
}

// RelayHandler accepts machine email-send requests authenticated by API key.
type RelayHandler struct {
	users      *service.UserService
	audit      *service.AuditService
	deliveries *jobs.Queue
}

// NewRelayHandler constructs RelayHandler.
func NewRelayHandler(users *service.UserService, audit *service.AuditService, deliveries *jobs.Queue) *RelayHandler {
	return &RelayHandler{users: users, audit: audit, deliveries: deliveries}
}

// Send godoc
// @Summary Accept an email for relay through the owner's Gmail account
// @Tags Relay
// @Accept json
// @Produce json
// @Param X-API-Key header string true "API key"
// @Param payload body RelayMessage true "Message payload"
// @Success 202 {object} response.Envelope
// @Router /relay/send [post]
func (h *RelayHandler) Send(c *gin.Context) {
	owner := middleware.KeyOwner(c)
	if owner == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var msg RelayMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	msg.OwnerID = owner.ID

	h.recordRelayEvent(c, owner.ID, msg.To, models.AuditActionEmailSendAttempt, nil)

	// The sealed app password must be on file before a send can be relayed.
	// It is unsealed by the delivery worker, never here.
	if !owner.HasAppPassword {
		err := appErrors.Clone(appErrors.ErrValidation, "no app password on file; configure one before sending")
		h.recordRelayEvent(c, owner.ID, msg.To, models.AuditActionEmailSendFailed, err)
		response.Error(c, err)
		return
	}

	messageID := uuid.NewString()
	if h.deliveries != nil {
		if err := h.deliveries.Enqueue(jobs.Job{ID: messageID, Type: DeliverEmailJob, Payload: msg}); err != nil {
			wrapped := appErrors.Wrap(err, "RELAY_UNAVAILABLE", http.StatusServiceUnavailable, "relay queue unavailable")
			h.recordRelayEvent(c, owner.ID, msg.To, models.AuditActionEmailSendFailed, wrapped)
			response.Error(c, wrapped)
			return
		}
	}

	h.recordRelayEvent(c, owner.ID, msg.To, models.AuditActionEmailSendSuccess, nil)
	response.JSON(c, http.StatusAccepted, gin.H{"message_id": messageID, "status": "queued"}, nil)
}

func (h *RelayHandler) recordRelayEvent(c *gin.Context, ownerID, to string, action models.AuditAction, failure error) {
	if h.audit == nil {
		return
	}
	resource := "email"
	entry := models.AuditLog{
		Actor:      &ownerID,
		Action:     action,
		Resource:   &resource,
		ResourceID: &to,
	}
	if failure != nil {
		outcome := models.AuditOutcomeFailure
		entry.Outcome = &outcome
		entry.Severity = models.AuditSeverityError
		msg := appErrors.FromError(failure).Code
		entry.ErrorMessage = &msg
	} else {
		outcome := models.AuditOutcomeSuccess
		entry.Outcome = &outcome
	}
	h.audit.LogFromContext(c, entry)
}
