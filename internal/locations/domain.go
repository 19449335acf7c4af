package locations

import "time"

// Location represents a warehouse or outlet belonging to a tenant.
type Location struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assignment binds a user to the single location they may operate in.
type Assignment struct {
	UserID     int64     `json:"user_id"`
	TenantID   int64     `json:"tenant_id"`
	LocationID int64     `json:"location_id"`
	AssignedBy int64     `json:"assigned_by"`
	CreatedAt  time.Time `json:"created_at"`
}
