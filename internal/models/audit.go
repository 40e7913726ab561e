package models

import (
	"strings"
	"time"
)

// AuditAction is a canonical action identifier. Every audit entry must use
// one of the declared constants; ad-hoc strings are rejected at the buffer.
type AuditAction string

const (
	// Auth
	AuditActionGoogleLogin  AuditAction = "AUTH_GOOGLE_LOGIN"
	AuditActionTokenRefresh AuditAction = "AUTH_TOKEN_REFRESH"
	AuditActionLogout       AuditAction = "AUTH_LOGOUT"

	// API keys
	AuditActionKeyCreated AuditAction = "APIKEY_CREATED"
	AuditActionKeyUsed    AuditAction = "APIKEY_USED"
	AuditActionKeyRevoked AuditAction = "APIKEY_REVOKED"
	AuditActionKeyDeleted AuditAction = "APIKEY_DELETED"

	// Email relay
	AuditActionEmailSendAttempt AuditAction = "EMAIL_SEND_ATTEMPT"
	AuditActionEmailSendSuccess AuditAction = "EMAIL_SEND_SUCCESS"
	AuditActionEmailSendFailed  AuditAction = "EMAIL_SEND_FAILED"

	// User management
	AuditActionUserUpdated     AuditAction = "USER_UPDATED"
	AuditActionUserSuspended   AuditAction = "USER_SUSPENDED"
	AuditActionUserReactivated AuditAction = "USER_REACTIVATED"
	AuditActionUserRoleChanged AuditAction = "USER_ROLE_CHANGED"
)

var auditActions = map[AuditAction]struct{}{
	AuditActionGoogleLogin:      {},
	AuditActionTokenRefresh:     {},
	AuditActionLogout:           {},
	AuditActionKeyCreated:       {},
	AuditActionKeyUsed:          {},
	AuditActionKeyRevoked:       {},
	AuditActionKeyDeleted:       {},
	AuditActionEmailSendAttempt: {},
	AuditActionEmailSendSuccess: {},
	AuditActionEmailSendFailed:  {},
	AuditActionUserUpdated:      {},
	AuditActionUserSuspended:    {},
	AuditActionUserReactivated:  {},
	AuditActionUserRoleChanged:  {},
}

// ValidAuditAction reports whether an action belongs to the closed enum.
func ValidAuditAction(a AuditAction) bool {
	_, ok := auditActions[a]
	return ok
}

// AuditCategory groups actions by namespace prefix.
type AuditCategory string

const (
	AuditCategoryAuth   AuditCategory = "AUTH"
	AuditCategoryAPIKey AuditCategory = "APIKEY"
	AuditCategoryEmail  AuditCategory = "EMAIL"
	AuditCategoryUser   AuditCategory = "USER"
	AuditCategoryOther  AuditCategory = "OTHER"
)

// DeriveCategory maps an action to its category by namespace prefix.
func DeriveCategory(action AuditAction) AuditCategory {
	s := string(action)
	switch {
	case strings.HasPrefix(s, "AUTH_"):
		return AuditCategoryAuth
	case strings.HasPrefix(s, "APIKEY_"):
		return AuditCategoryAPIKey
	case strings.HasPrefix(s, "EMAIL_"):
		return AuditCategoryEmail
	case strings.HasPrefix(s, "USER_"):
		return AuditCategoryUser
	}
	return AuditCategoryOther
}

// AuditSeverity flags entry priority for alerting.
type AuditSeverity string

const (
	AuditSeverityInfo  AuditSeverity = "INFO"
	AuditSeverityWarn  AuditSeverity = "WARN"
	AuditSeverityError AuditSeverity = "ERROR"
)

// AuditOutcome records whether the audited action succeeded.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "SUCCESS"
	AuditOutcomeFailure AuditOutcome = "FAILURE"
)

// AuditLog is an immutable record of a security-relevant action. Entries
// carry a creation timestamp only; they are never updated and are purged by
// the retention job, not by application code.
type AuditLog struct {
	ID           string        `db:"id" json:"id"`
	Actor        *string       `db:"actor" json:"actor,omitempty"`
	Action       AuditAction   `db:"action" json:"action"`
	Category     AuditCategory `db:"category" json:"category"`
	Severity     AuditSeverity `db:"severity" json:"severity"`
	Resource     *string       `db:"resource" json:"resource,omitempty"`
	ResourceID   *string       `db:"resource_id" json:"resource_id,omitempty"`
	IP           *string       `db:"ip" json:"ip,omitempty"`
	UserAgent    *string       `db:"user_agent" json:"user_agent,omitempty"`
	DeviceInfo   *string       `db:"device_info" json:"device_info,omitempty"`
	Headers      JSONMap       `db:"headers" json:"headers,omitempty"`
	RequestID    *string       `db:"request_id" json:"request_id,omitempty"`
	Meta         JSONMap       `db:"meta" json:"meta,omitempty"`
	DurationMs   *int64        `db:"duration_ms" json:"duration_ms,omitempty"`
	Outcome      *AuditOutcome `db:"outcome" json:"outcome,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	Actor    string
	Action   AuditAction
	Category AuditCategory
	IP       string
	Outcome  AuditOutcome
	Page     int
	PageSize int
}
