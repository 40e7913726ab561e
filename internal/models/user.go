package models

import "time"

// UserRole represents the available roles for the dashboard RBAC system.
type UserRole string

const (
	RoleUser       UserRole = "USER"
	RoleAdmin      UserRole = "ADMIN"
	RoleSuperAdmin UserRole = "SUPERADMIN"
)

// UserStatus captures the account lifecycle state.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User represents an application user stored in the users table.
// EncryptedAppPassword holds the AES-GCM sealed Gmail app password and is
// never serialized; encryption happens explicitly in the service layer.
type User struct {
	ID                   string     `db:"id" json:"id"`
	GoogleID             string     `db:"google_id" json:"-"`
	Email                string     `db:"email" json:"email"`
	Name                 string     `db:"name" json:"name"`
	ProfilePicture       *string    `db:"profile_picture" json:"profile_picture,omitempty"`
	Role                 UserRole   `db:"role" json:"role"`
	Status               UserStatus `db:"status" json:"status"`
	EncryptedAppPassword *string    `db:"encrypted_app_password" json:"-"`
	HasAppPassword       bool       `db:"has_app_password" json:"has_app_password"`
	LastLoginIP          *string    `db:"last_login_ip" json:"last_login_ip,omitempty"`
	LastLoginDevice      *string    `db:"last_login_device" json:"last_login_device,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the account may authenticate.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// ValidRole reports whether a role value belongs to the closed enumeration.
func ValidRole(r UserRole) bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Status    *UserStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
