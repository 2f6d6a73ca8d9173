package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent   UserRole = "STUDENT"
	RoleAssistant UserRole = "ASSISTANT"
	RoleAdmin     UserRole = "ADMIN"
	RoleFinancial UserRole = "FINANCIAL"
	RoleCEO       UserRole = "CEO"
)

// Permissions are the capability flags derived from a role. They gate the
// admin surface both in middleware and inside analytics composition.
type Permissions struct {
	ManageUsers   bool `json:"manage_users"`
	ManageOrders  bool `json:"manage_orders"`
	ManageContent bool `json:"manage_content"`
	ViewRevenue   bool `json:"view_revenue"`
	SupportChat   bool `json:"support_chat"`
}

// PermissionsForRole computes the capability flags for a role.
func PermissionsForRole(role UserRole) Permissions {
	switch role {
	case RoleCEO:
		return Permissions{ManageUsers: true, ManageOrders: true, ManageContent: true, ViewRevenue: true, SupportChat: true}
	case RoleAdmin:
		return Permissions{ManageUsers: true, ManageContent: true, SupportChat: true}
	case RoleFinancial:
		return Permissions{ManageOrders: true, ViewRevenue: true}
	case RoleAssistant:
		return Permissions{SupportChat: true}
	default:
		return Permissions{}
	}
}

// Staff reports whether the role grants access to the admin area at all.
func (r UserRole) Staff() bool {
	return r == RoleAssistant || r == RoleAdmin || r == RoleFinancial || r == RoleCEO
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
