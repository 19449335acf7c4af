package auth

import (
	"time"

	"github.com/keystone-erp/keystone-erp/internal/authz"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	TenantID     int64
	Email        string
	Name         string
	PasswordHash string
	Role         authz.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
