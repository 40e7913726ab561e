package models

import (
	"time"

	"github.com/lib/pq"
)

// APIKeyStatus is the lifecycle state of an issued credential.
type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "ACTIVE"
	APIKeyStatusRevoked APIKeyStatus = "REVOKED"
)

// MaxKeyNameLength bounds the human-assigned key name.
const MaxKeyNameLength = 80

// APIKey represents an issued credential. HashedKey is the SHA-256 digest of
// the raw secret, the only form ever persisted; it is excluded from every
// serialization. Prefix and suffix exist for display recognition only.
type APIKey struct {
	ID         string         `db:"id" json:"id"`
	UserID     string         `db:"user_id" json:"user_id"`
	Name       string         `db:"name" json:"name"`
	HashedKey  string         `db:"hashed_key" json:"-"`
	Prefix     string         `db:"prefix" json:"prefix"`
	Suffix     string         `db:"suffix" json:"suffix"`
	Status     APIKeyStatus   `db:"status" json:"status"`
	LastUsedAt *time.Time     `db:"last_used_at" json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	AllowedIPs pq.StringArray `db:"allowed_ips" json:"allowed_ips"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// IPAllowed reports whether the requesting IP passes the allowlist.
// An empty allowlist means unrestricted.
func (k *APIKey) IPAllowed(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	if ip == "" {
		return false
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}
