package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/internal/service"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/response"
)

const (
	// HeaderAPIKey is the request header carrying the raw API key secret.
	HeaderAPIKey = "X-API-Key"

	// ContextAPIKey and ContextKeyOwner store the authenticated credential
	// and its owner for downstream handlers.
	ContextAPIKey   = "apiKey"
	ContextKeyOwner = "apiKeyOwner"
)

// APIKeyAuth authenticates machine requests via the X-API-Key header. Every
// attempt, accepted or rejected, produces a key-usage audit entry; recording
// never blocks or fails the request.
func APIKeyAuth(keys *service.APIKeyService, audit *service.AuditService, metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderAPIKey)

		key, owner, err := keys.Validate(c.Request.Context(), raw, c.ClientIP())
		if err != nil {
			if metrics != nil {
				metrics.ObserveKeyValidation(false)
			}
			recordKeyUsage(c, audit, nil, err)
			response.Error(c, err)
			c.Abort()
			return
		}

		if metrics != nil {
			metrics.ObserveKeyValidation(true)
		}
		recordKeyUsage(c, audit, key, nil)

		c.Set(ContextAPIKey, key)
		c.Set(ContextKeyOwner, owner)
		c.Next()
	}
}

func recordKeyUsage(c *gin.Context, audit *service.AuditService, key *models.APIKey, failure error) {
	if audit == nil {
		return
	}
	entry := models.AuditLog{Action: models.AuditActionKeyUsed}
	if key != nil {
		outcome := models.AuditOutcomeSuccess
		entry.Outcome = &outcome
		entry.Actor = &key.UserID
		resource := "api_key"
		entry.Resource = &resource
		entry.ResourceID = &key.ID
	} else {
		outcome := models.AuditOutcomeFailure
		entry.Outcome = &outcome
		entry.Severity = models.AuditSeverityWarn
		msg := appErrors.FromError(failure).Code
		entry.ErrorMessage = &msg
	}
	audit.LogFromContext(c, entry)
}

// AuthenticatedKey returns the credential stored by APIKeyAuth, or nil.
func AuthenticatedKey(c *gin.Context) *models.APIKey {
	if value, ok := c.Get(ContextAPIKey); ok {
		if key, ok := value.(*models.APIKey); ok {
			return key
		}
	}
	return nil
}

// KeyOwner returns the account that owns the authenticated credential.
func KeyOwner(c *gin.Context) *models.User {
	if value, ok := c.Get(ContextKeyOwner); ok {
		if user, ok := value.(*models.User); ok {
			return user
		}
	}
	return nil
}
