package locations

import (
	"context"
	"errors"
)

// Service handles location business logic.
type Service struct {
	repo Repository
}

// NewService builds Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns every location in the tenant.
func (s *Service) List(ctx context.Context, tenantID int64) ([]Location, error) {
	return s.repo.List(ctx, tenantID)
}

// Get fetches one location.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, errors.New("locations: invalid location id")
	}
	return s.repo.Get(ctx, tenantID, id)
}

// AssignedLocation returns the user's assigned location id, if any.
func (s *Service) AssignedLocation(ctx context.Context, tenantID, userID int64) (int64, bool, error) {
	return s.repo.AssignedLocation(ctx, tenantID, userID)
}

// Assign binds a user to a location, replacing any previous assignment. The
// target location must exist within the tenant.
func (s *Service) Assign(ctx context.Context, a Assignment) error {
	if a.LocationID <= 0 || a.UserID <= 0 {
		return errors.New("locations: assignment requires user and location")
	}
	if _, err := s.repo.Get(ctx, a.TenantID, a.LocationID); err != nil {
		return err
	}
	return s.repo.Assign(ctx, a)
}

// Unassign removes the user's location assignment.
func (s *Service) Unassign(ctx context.Context, tenantID, userID int64) error {
	return s.repo.Unassign(ctx, tenantID, userID)
}
