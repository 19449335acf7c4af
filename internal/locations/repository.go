package locations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// Repository defines persistence operations for locations and assignments.
type Repository interface {
	List(ctx context.Context, tenantID int64) ([]Location, error)
	Get(ctx context.Context, tenantID, id int64) (Location, error)
	// AssignedLocation returns the location assigned to the user, or zero and
	// false when none is assigned. The scope guard calls this fresh on every
	// request; assignments are deliberately never cached.
	AssignedLocation(ctx context.Context, tenantID, userID int64) (int64, bool, error)
	Assign(ctx context.Context, a Assignment) error
	Unassign(ctx context.Context, tenantID, userID int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const locationColumns = `id, tenant_id, code, name, address, created_at, updated_at`

func (r *repository) List(ctx context.Context, tenantID int64) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("locations: list: %w", err)
	}
	defer rows.Close()

	var result []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.TenantID, &loc.Code, &loc.Name, &loc.Address, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("locations: scan: %w", err)
		}
		result = append(result, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locations: list: %w", err)
	}
	return result, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&loc.ID, &loc.TenantID, &loc.Code, &loc.Name, &loc.Address, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.ErrNotFound
		}
		return Location{}, fmt.Errorf("locations: get: %w", err)
	}
	return loc, nil
}

func (r *repository) AssignedLocation(ctx context.Context, tenantID, userID int64) (int64, bool, error) {
	var locationID int64
	err := r.pool.QueryRow(ctx, `SELECT location_id FROM location_assignments WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID).Scan(&locationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("locations: assigned location: %w", err)
	}
	return locationID, true, nil
}

func (r *repository) Assign(ctx context.Context, a Assignment) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO location_assignments (tenant_id, user_id, location_id, assigned_by, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET location_id = EXCLUDED.location_id,
    assigned_by = EXCLUDED.assigned_by,
    created_at = EXCLUDED.created_at`,
		a.TenantID, a.UserID, a.LocationID, a.AssignedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("locations: assign: %w", err)
	}
	return nil
}

func (r *repository) Unassign(ctx context.Context, tenantID, userID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM location_assignments WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("locations: unassign: %w", err)
	}
	return nil
}
