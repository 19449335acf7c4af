package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// UserDirectory supplies the role of a stored user for admin projections.
type UserDirectory interface {
	GetRole(ctx context.Context, tenantID, userID int64) (Role, error)
}

// MetricsRecorder receives authorization observability signals.
type MetricsRecorder interface {
	AuthzDecision(outcome, reason string)
	OverrideCacheLookup(hit bool)
}

// Service resolves effective permissions and administers overrides. Reads go
// through the override cache; every mutation writes the store first and then
// drops the cache entry before returning, so the next resolution for that
// user re-reads persisted state.
type Service struct {
	repo    Repository
	cache   *OverrideCache
	audit   *shared.AuditLogger
	logger  *slog.Logger
	metrics MetricsRecorder
	group   singleflight.Group
}

// NewService constructs a Service. Audit logger and metrics are optional.
func NewService(repo Repository, cache *OverrideCache, audit *shared.AuditLogger, logger *slog.Logger, metrics MetricsRecorder) *Service {
	if cache == nil {
		cache = NewOverrideCache(DefaultCacheTTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, metrics: metrics}
}

// Cache exposes the override cache for administrative clearing.
func (s *Service) Cache() *OverrideCache {
	return s.cache
}

// overridesFor returns the permission -> granted map for a user, serving from
// the cache when a live entry exists. Concurrent cold-key lookups are
// collapsed into one store read; the result converges either way.
func (s *Service) overridesFor(ctx context.Context, tenantID, userID int64) (map[Permission]bool, error) {
	if cached, ok := s.cache.Get(tenantID, userID); ok {
		if s.metrics != nil {
			s.metrics.OverrideCacheLookup(true)
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.OverrideCacheLookup(false)
	}

	key := cacheKey(tenantID, userID)
	value, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.cache.Generation(tenantID, userID)
		rows, err := s.repo.ListOverrides(ctx, tenantID, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		overrides := make(map[Permission]bool, len(rows))
		for _, row := range rows {
			overrides[row.Permission] = row.Granted
		}
		// Publish only if no mutation invalidated the key while the store
		// read was in flight; a stale snapshot must not re-enter the cache.
		s.cache.SetIfCurrent(tenantID, userID, overrides, gen)
		return overrides, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(map[Permission]bool), nil
}

// invalidate drops the cache entry and any in-flight fetch for the key so the
// next read cannot observe pre-mutation state.
func (s *Service) invalidate(tenantID, userID int64) {
	s.cache.Invalidate(tenantID, userID)
	s.group.Forget(cacheKey(tenantID, userID))
}

// Resolve computes the effective permission set for the principal. The top
// role short-circuits to the full universe without touching the store and
// ignores overrides entirely.
func (s *Service) Resolve(ctx context.Context, p Principal) (map[Permission]struct{}, error) {
	if p.Role.IsTop() {
		return Universe(), nil
	}
	defaults, ok := DefaultsFor(p.Role)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, p.Role)
	}
	overrides, err := s.overridesFor(ctx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	for perm, granted := range overrides {
		if granted {
			defaults[perm] = struct{}{}
		}
	}
	for perm, granted := range overrides {
		if !granted {
			delete(defaults, perm)
		}
	}
	return defaults, nil
}

// EffectivePermissions returns the resolved set sorted for stable output.
func (s *Service) EffectivePermissions(ctx context.Context, p Principal) ([]Permission, error) {
	set, err := s.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms, nil
}

// Has reports whether the principal holds a single permission. An override is
// authoritative when present; role defaults apply otherwise.
func (s *Service) Has(ctx context.Context, p Principal, perm Permission) (bool, error) {
	decision, err := s.hasDetail(ctx, p, perm)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

func (s *Service) hasDetail(ctx context.Context, p Principal, perm Permission) (Decision, error) {
	if p.Role.IsTop() {
		return Decision{Allowed: true, Reason: ReasonTopRole}, nil
	}
	defaults, ok := DefaultsFor(p.Role)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownRole, p.Role)
	}
	overrides, err := s.overridesFor(ctx, p.TenantID, p.UserID)
	if err != nil {
		return Decision{}, err
	}
	if granted, found := overrides[perm]; found {
		if granted {
			return Decision{Allowed: true, Reason: ReasonOverrideGrant}, nil
		}
		return Decision{Allowed: false, Reason: ReasonOverrideRevoke}, nil
	}
	if _, found := defaults[perm]; found {
		return Decision{Allowed: true, Reason: ReasonRoleDefault}, nil
	}
	return Decision{Allowed: false, Reason: ReasonNotGranted}, nil
}

// HasAll reports whether the principal holds every listed permission. An
// empty list is vacuously true.
func (s *Service) HasAll(ctx context.Context, p Principal, perms []Permission) (bool, error) {
	for _, perm := range perms {
		ok, err := s.Has(ctx, p, perm)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasAny reports whether the principal holds at least one listed permission.
// An empty list is false.
func (s *Service) HasAny(ctx context.Context, p Principal, perms []Permission) (bool, error) {
	for _, perm := range perms {
		ok, err := s.Has(ctx, p, perm)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Check evaluates a declared requirement against the principal and reports
// the decision together with the reason that settled it.
func (s *Service) Check(ctx context.Context, p Principal, perms []Permission, mode RequireMode) (Decision, error) {
	if len(perms) == 0 {
		return Decision{Allowed: true, Reason: ReasonEmpty}, nil
	}
	if p.Role.IsTop() {
		return Decision{Allowed: true, Reason: ReasonTopRole}, nil
	}
	var last Decision
	for _, perm := range perms {
		decision, err := s.hasDetail(ctx, p, perm)
		if err != nil {
			return Decision{}, err
		}
		last = decision
		if mode == RequireAllOf && !decision.Allowed {
			return decision, nil
		}
		if mode == RequireAnyOf && decision.Allowed {
			return decision, nil
		}
	}
	if mode == RequireAllOf {
		return last, nil
	}
	return Decision{Allowed: false, Reason: last.Reason}, nil
}

// Grant upserts a granting override and invalidates the user's cache entry.
func (s *Service) Grant(ctx context.Context, tenantID, userID int64, perm Permission, grantedBy int64, reason string) error {
	return s.applyOverride(ctx, Override{
		TenantID:   tenantID,
		UserID:     userID,
		Permission: perm,
		Granted:    true,
		GrantedBy:  grantedBy,
		Reason:     reason,
	})
}

// Revoke upserts a revoking override and invalidates the user's cache entry.
func (s *Service) Revoke(ctx context.Context, tenantID, userID int64, perm Permission, grantedBy int64, reason string) error {
	return s.applyOverride(ctx, Override{
		TenantID:   tenantID,
		UserID:     userID,
		Permission: perm,
		Granted:    false,
		GrantedBy:  grantedBy,
		Reason:     reason,
	})
}

func (s *Service) applyOverride(ctx context.Context, ov Override) error {
	if !ov.Permission.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, ov.Permission)
	}
	if err := s.repo.UpsertOverride(ctx, ov); err != nil {
		return err
	}
	s.invalidate(ov.TenantID, ov.UserID)
	action := "permissions.grant"
	if !ov.Granted {
		action = "permissions.revoke"
	}
	s.recordAudit(ctx, ov.TenantID, ov.GrantedBy, action, ov.UserID, map[string]any{
		"permission": string(ov.Permission),
		"granted":    ov.Granted,
		"reason":     ov.Reason,
	})
	return nil
}

// RemoveOverride deletes the override row, reverting that permission to pure
// role-default behaviour for the user.
func (s *Service) RemoveOverride(ctx context.Context, tenantID, userID int64, perm Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, perm)
	}
	if err := s.repo.DeleteOverride(ctx, tenantID, userID, perm); err != nil {
		return err
	}
	s.invalidate(tenantID, userID)
	s.recordAudit(ctx, tenantID, 0, "permissions.remove_override", userID, map[string]any{
		"permission": string(perm),
	})
	return nil
}

// RemoveAllOverrides deletes every override row for the user.
func (s *Service) RemoveAllOverrides(ctx context.Context, tenantID, userID int64) error {
	if err := s.repo.DeleteAllOverrides(ctx, tenantID, userID); err != nil {
		return err
	}
	s.invalidate(tenantID, userID)
	s.recordAudit(ctx, tenantID, 0, "permissions.remove_all_overrides", userID, nil)
	return nil
}

// SetOverrides applies a batch of grant/revoke changes atomically and
// invalidates the cache once after the batch commits. An empty batch performs
// no writes and leaves the cache untouched.
func (s *Service) SetOverrides(ctx context.Context, tenantID, userID int64, changes []OverrideChange, grantedBy int64) error {
	if len(changes) == 0 {
		return nil
	}
	for _, change := range changes {
		if !change.Permission.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, change.Permission)
		}
	}
	if err := s.repo.SetOverrides(ctx, tenantID, userID, changes, grantedBy); err != nil {
		return err
	}
	s.invalidate(tenantID, userID)
	meta := make(map[string]any, len(changes))
	for _, change := range changes {
		meta[string(change.Permission)] = change.Granted
	}
	s.recordAudit(ctx, tenantID, grantedBy, "permissions.set_overrides", userID, meta)
	return nil
}

// GetOverrides returns the persisted override rows with provenance. It always
// reads the store: admin views must reflect exact persisted state, including
// fields the cache does not track.
func (s *Service) GetOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error) {
	return s.repo.ListOverrides(ctx, tenantID, userID)
}

// PermissionsDetail is the admin projection of a user's authorization state.
type PermissionsDetail struct {
	UserID      int64        `json:"user_id"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
	Overrides   []Override   `json:"overrides"`
}

// GetUserPermissionsDetail returns role, effective permissions and the
// override breakdown for admin display.
func (s *Service) GetUserPermissionsDetail(ctx context.Context, directory UserDirectory, tenantID, userID int64) (PermissionsDetail, error) {
	role, err := directory.GetRole(ctx, tenantID, userID)
	if err != nil {
		return PermissionsDetail{}, err
	}
	perms, err := s.EffectivePermissions(ctx, Principal{UserID: userID, TenantID: tenantID, Role: role})
	if err != nil {
		return PermissionsDetail{}, err
	}
	overrides, err := s.GetOverrides(ctx, tenantID, userID)
	if err != nil {
		return PermissionsDetail{}, err
	}
	return PermissionsDetail{
		UserID:      userID,
		Role:        role,
		Permissions: perms,
		Overrides:   overrides,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, subjectID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "user_permission",
		EntityID: fmt.Sprintf("%d", subjectID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record permission audit", slog.String("action", action), slog.Any("error", err))
	}
}
