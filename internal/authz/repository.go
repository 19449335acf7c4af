package authz

import "context"

// Repository defines persistence operations for permission overrides.
type Repository interface {
	// ListOverrides returns every override row for the user.
	ListOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error)
	// UpsertOverride inserts or updates the row keyed by (user_id, permission).
	UpsertOverride(ctx context.Context, ov Override) error
	// DeleteOverride removes a single override row. Deleting a row that does
	// not exist is not an error.
	DeleteOverride(ctx context.Context, tenantID, userID int64, perm Permission) error
	// DeleteAllOverrides removes every override row for the user.
	DeleteAllOverrides(ctx context.Context, tenantID, userID int64) error
	// SetOverrides applies a batch of upserts in one transaction.
	SetOverrides(ctx context.Context, tenantID, userID int64, changes []OverrideChange, grantedBy int64) error
}
