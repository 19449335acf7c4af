package users

import (
	"time"

	"github.com/keystone-erp/keystone-erp/internal/authz"
)

// User represents a tenant member.
type User struct {
	ID        int64      `json:"id"`
	TenantID  int64      `json:"tenant_id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      authz.Role `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
