package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-erp/keystone-erp/internal/platform/db"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const overrideColumns = `tenant_id, user_id, permission, granted, granted_by, reason, created_at, updated_at`

// isForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation, which on permission_overrides means the target user is gone.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// ListOverrides returns every override row for the user ordered by permission.
func (r *PGRepository) ListOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+overrideColumns+` FROM permission_overrides WHERE tenant_id = $1 AND user_id = $2 ORDER BY permission`, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		var ov Override
		if err := rows.Scan(&ov.TenantID, &ov.UserID, &ov.Permission, &ov.Granted, &ov.GrantedBy, &ov.Reason, &ov.CreatedAt, &ov.UpdatedAt); err != nil {
			return nil, fmt.Errorf("authz: scan override: %w", err)
		}
		overrides = append(overrides, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: list overrides: %w", err)
	}
	return overrides, nil
}

const upsertOverrideSQL = `
INSERT INTO permission_overrides (tenant_id, user_id, permission, granted, granted_by, reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (user_id, permission) DO UPDATE
SET granted = EXCLUDED.granted,
    granted_by = EXCLUDED.granted_by,
    reason = EXCLUDED.reason,
    updated_at = EXCLUDED.updated_at`

// UpsertOverride inserts or updates the row keyed by (user_id, permission).
func (r *PGRepository) UpsertOverride(ctx context.Context, ov Override) error {
	_, err := r.pool.Exec(ctx, upsertOverrideSQL, ov.TenantID, ov.UserID, ov.Permission, ov.Granted, ov.GrantedBy, ov.Reason, time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUnknownUser
		}
		return fmt.Errorf("authz: upsert override: %w", err)
	}
	return nil
}

// DeleteOverride removes a single override row.
func (r *PGRepository) DeleteOverride(ctx context.Context, tenantID, userID int64, perm Permission) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM permission_overrides WHERE tenant_id = $1 AND user_id = $2 AND permission = $3`, tenantID, userID, perm)
	if err != nil {
		return fmt.Errorf("authz: delete override: %w", err)
	}
	return nil
}

// DeleteAllOverrides removes every override row for the user.
func (r *PGRepository) DeleteAllOverrides(ctx context.Context, tenantID, userID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM permission_overrides WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("authz: delete overrides: %w", err)
	}
	return nil
}

// SetOverrides applies a batch of upserts atomically. Either every change
// commits or none does.
func (r *PGRepository) SetOverrides(ctx context.Context, tenantID, userID int64, changes []OverrideChange, grantedBy int64) error {
	if len(changes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, change := range changes {
			if _, err := tx.Exec(ctx, upsertOverrideSQL, tenantID, userID, change.Permission, change.Granted, grantedBy, change.Reason, now); err != nil {
				if isForeignKeyViolation(err) {
					return ErrUnknownUser
				}
				return fmt.Errorf("authz: batch upsert override: %w", err)
			}
		}
		return nil
	})
}

var _ Repository = (*PGRepository)(nil)
