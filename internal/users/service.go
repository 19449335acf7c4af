package users

import (
	"context"

	"github.com/keystone-erp/keystone-erp/internal/authz"
	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns one page of users in the tenant.
func (s *Service) ListUsers(ctx context.Context, tenantID int64, page, perPage int) ([]User, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	list, total, err := s.repo.ListUsers(ctx, tenantID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page, perPage, total), nil
}

// GetUser returns one user scoped by tenant.
func (s *Service) GetUser(ctx context.Context, tenantID, userID int64) (User, error) {
	return s.repo.GetUser(ctx, tenantID, userID)
}

// GetRole returns the role of a stored user. Satisfies authz.UserDirectory.
func (s *Service) GetRole(ctx context.Context, tenantID, userID int64) (authz.Role, error) {
	user, err := s.repo.GetUser(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

var _ authz.UserDirectory = (*Service)(nil)
