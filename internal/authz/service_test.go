package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	overrides map[string]map[Permission]Override

	listCalls int
	listHook  func()

	listError   error
	upsertError error
	deleteError error
	batchError  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{overrides: make(map[string]map[Permission]Override)}
}

func (m *mockRepository) bucket(tenantID, userID int64) map[Permission]Override {
	key := cacheKey(tenantID, userID)
	if m.overrides[key] == nil {
		m.overrides[key] = make(map[Permission]Override)
	}
	return m.overrides[key]
}

func (m *mockRepository) ListOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error) {
	m.listCalls++
	if m.listError != nil {
		return nil, m.listError
	}
	rows := []Override{}
	for _, ov := range m.bucket(tenantID, userID) {
		rows = append(rows, ov)
	}
	// Runs after the rows are copied, so a test can hold a snapshot in
	// flight while the store moves on underneath it.
	if m.listHook != nil {
		m.listHook()
	}
	return rows, nil
}

func (m *mockRepository) UpsertOverride(ctx context.Context, ov Override) error {
	if m.upsertError != nil {
		return m.upsertError
	}
	m.bucket(ov.TenantID, ov.UserID)[ov.Permission] = ov
	return nil
}

func (m *mockRepository) DeleteOverride(ctx context.Context, tenantID, userID int64, perm Permission) error {
	if m.deleteError != nil {
		return m.deleteError
	}
	delete(m.bucket(tenantID, userID), perm)
	return nil
}

func (m *mockRepository) DeleteAllOverrides(ctx context.Context, tenantID, userID int64) error {
	if m.deleteError != nil {
		return m.deleteError
	}
	delete(m.overrides, cacheKey(tenantID, userID))
	return nil
}

func (m *mockRepository) SetOverrides(ctx context.Context, tenantID, userID int64, changes []OverrideChange, grantedBy int64) error {
	if m.batchError != nil {
		return m.batchError
	}
	bucket := m.bucket(tenantID, userID)
	for _, change := range changes {
		bucket[change.Permission] = Override{
			TenantID:   tenantID,
			UserID:     userID,
			Permission: change.Permission,
			Granted:    change.Granted,
			GrantedBy:  grantedBy,
			Reason:     change.Reason,
		}
	}
	return nil
}

func newTestService() (*Service, *mockRepository) {
	repo := newMockRepository()
	svc := NewService(repo, NewOverrideCache(time.Minute), nil, nil, nil)
	return svc, repo
}

func principal(role Role) Principal {
	return Principal{UserID: 42, TenantID: 1, Role: role}
}

// ============================================================================
// RESOLUTION
// ============================================================================

func TestResolveSuperAdminGetsUniverse(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	set, err := svc.Resolve(ctx, principal(RoleSuperAdmin))
	require.NoError(t, err)
	assert.Len(t, set, len(AllPermissions()))
	assert.Zero(t, repo.listCalls, "top role resolution must not touch the store")
}

func TestResolveSuperAdminIgnoresOverrides(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	repo.bucket(1, 42)[PermPOSSell] = Override{TenantID: 1, UserID: 42, Permission: PermPOSSell, Granted: false}

	ok, err := svc.Has(ctx, principal(RoleSuperAdmin), PermPOSSell)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveRoleDefaultsWithoutOverrides(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	set, err := svc.Resolve(ctx, principal(RoleEmployee))
	require.NoError(t, err)

	defaults, ok := DefaultsFor(RoleEmployee)
	require.True(t, ok)
	assert.Equal(t, defaults, set)
}

func TestResolveUnknownRole(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Resolve(ctx, principal(Role("GUEST")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRole))
}

func TestOverrideGrantBeatsRoleDefault(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// pos:refund is not an employee default.
	ok, err := svc.Has(ctx, principal(RoleEmployee), PermPOSRefund)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, "covering shift"))

	ok, err = svc.Has(ctx, principal(RoleEmployee), PermPOSRefund)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverrideRevokeBeatsRoleDefault(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// pos:sell is an employee default.
	require.NoError(t, svc.Revoke(ctx, 1, 42, PermPOSSell, 9, "register incident"))

	ok, err := svc.Has(ctx, principal(RoleEmployee), PermPOSSell)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, "first"))
	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, "second"))

	rows, err := svc.GetOverrides(ctx, 1, 42)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Reason)
	assert.True(t, rows[0].Granted)
}

func TestGrantThenRevokeFlipsSingleRow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, "grant"))
	require.NoError(t, svc.Revoke(ctx, 1, 42, PermPOSRefund, 9, "revoke"))

	rows, err := svc.GetOverrides(ctx, 1, 42)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Granted)

	ok, err := svc.Has(ctx, principal(RoleEmployee), PermPOSRefund)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantUnknownPermission(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	err := svc.Grant(ctx, 1, 42, Permission("pos:steal"), 9, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPermission))
}

func TestRemoveOverrideRestoresRoleDefault(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Revoke(ctx, 1, 42, PermPOSSell, 9, ""))
	ok, err := svc.Has(ctx, principal(RoleEmployee), PermPOSSell)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.RemoveOverride(ctx, 1, 42, PermPOSSell))

	ok, err = svc.Has(ctx, principal(RoleEmployee), PermPOSSell)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoveAllOverrides(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, ""))
	require.NoError(t, svc.Revoke(ctx, 1, 42, PermPOSSell, 9, ""))

	require.NoError(t, svc.RemoveAllOverrides(ctx, 1, 42))

	rows, err := svc.GetOverrides(ctx, 1, 42)
	require.NoError(t, err)
	assert.Empty(t, rows)

	set, err := svc.Resolve(ctx, principal(RoleEmployee))
	require.NoError(t, err)
	defaults, _ := DefaultsFor(RoleEmployee)
	assert.Equal(t, defaults, set)
}

// ============================================================================
// MULTI-PERMISSION CHECKS
// ============================================================================

func TestHasAllEmptyListIsTrue(t *testing.T) {
	svc, _ := newTestService()
	ok, err := svc.HasAll(context.Background(), principal(RoleEmployee), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasAnyEmptyListIsFalse(t *testing.T) {
	svc, _ := newTestService()
	ok, err := svc.HasAny(context.Background(), principal(RoleEmployee), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasAll(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ok, err := svc.HasAll(ctx, principal(RoleEmployee), []Permission{PermPOSSell, PermProductsView})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAll(ctx, principal(RoleEmployee), []Permission{PermPOSSell, PermPOSRefund})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasAny(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ok, err := svc.HasAny(ctx, principal(RoleEmployee), []Permission{PermPOSRefund, PermPOSSell})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAny(ctx, principal(RoleEmployee), []Permission{PermPOSRefund, PermPayrollRun})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckReportsReason(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	decision, err := svc.Check(ctx, principal(RoleEmployee), nil, RequireAnyOf)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonEmpty, decision.Reason)

	decision, err = svc.Check(ctx, principal(RoleSuperAdmin), []Permission{PermPayrollRun}, RequireAllOf)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonTopRole, decision.Reason)

	decision, err = svc.Check(ctx, principal(RoleEmployee), []Permission{PermPOSSell}, RequireAllOf)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ReasonRoleDefault, decision.Reason)

	decision, err = svc.Check(ctx, principal(RoleEmployee), []Permission{PermPayrollRun}, RequireAnyOf)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNotGranted, decision.Reason)

	require.NoError(t, svc.Revoke(ctx, 1, 42, PermPOSSell, 9, ""))
	decision, err = svc.Check(ctx, principal(RoleEmployee), []Permission{PermPOSSell}, RequireAllOf)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonOverrideRevoke, decision.Reason)
}

// ============================================================================
// FAIL-CLOSED RESOLUTION
// ============================================================================

func TestStoreErrorFailsClosed(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.listError = errors.New("connection refused")

	_, err := svc.Has(ctx, principal(RoleEmployee), PermPOSSell)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))

	_, err = svc.Resolve(ctx, principal(RoleEmployee))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestStoreErrorDoesNotAffectSuperAdmin(t *testing.T) {
	svc, repo := newTestService()
	repo.listError = errors.New("connection refused")

	ok, err := svc.Has(context.Background(), principal(RoleSuperAdmin), PermPOSSell)
	require.NoError(t, err)
	assert.True(t, ok)
}

// ============================================================================
// CACHE COHERENCE
// ============================================================================

func TestResolutionIsCached(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	_, err := svc.Resolve(ctx, p)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
}

func TestGrantInvalidatesCache(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	ok, err := svc.Has(ctx, p, PermPOSRefund)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, repo.listCalls)

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, ""))

	ok, err = svc.Has(ctx, p, PermPOSRefund)
	require.NoError(t, err)
	assert.True(t, ok, "post-mutation read must see the new override")
	assert.Equal(t, 2, repo.listCalls, "mutation must drop the cache entry")
}

func TestRevokeInvalidatesCache(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	ok, err := svc.Has(ctx, p, PermPOSSell)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Revoke(ctx, 1, 42, PermPOSSell, 9, ""))

	ok, err = svc.Has(ctx, p, PermPOSSell)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveOverrideInvalidatesCache(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, ""))
	ok, err := svc.Has(ctx, p, PermPOSRefund)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.RemoveOverride(ctx, 1, 42, PermPOSRefund))

	ok, err = svc.Has(ctx, p, PermPOSRefund)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutationFailureLeavesCacheIntact(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	_, err := svc.Resolve(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 1, repo.listCalls)

	repo.upsertError = errors.New("write failed")
	require.Error(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, ""))

	_, err = svc.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "failed mutation must not invalidate")
}

func TestStalledFetchCannotRecacheAcrossMutation(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	repo.listHook = func() {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	// Cold-key resolution stalls inside the store read.
	stale := make(chan struct{})
	go func() {
		defer close(stale)
		_, _ = svc.Has(ctx, p, PermPOSRefund)
	}()
	<-started

	// The grant commits and invalidates while that read is still in flight.
	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, "shift lead"))
	close(release)
	<-stale

	// The stalled fetch finished after the grant; whatever it published must
	// not shadow the committed override for readers starting now.
	ok, err := svc.Has(ctx, p, PermPOSRefund)
	require.NoError(t, err)
	require.True(t, ok, "resolution after a completed grant saw pre-grant state")
	assert.Equal(t, 2, repo.listCalls, "post-grant resolution must re-read the store")
}

func TestCacheIsScopedPerUser(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, ""))

	other := Principal{UserID: 43, TenantID: 1, Role: RoleEmployee}
	ok, err := svc.Has(ctx, other, PermPOSRefund)
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// BATCH OVERRIDES
// ============================================================================

func TestSetOverridesAppliesBatch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	changes := []OverrideChange{
		{Permission: PermPOSRefund, Granted: true, Reason: "shift lead"},
		{Permission: PermPOSSell, Granted: false, Reason: "till audit"},
	}
	require.NoError(t, svc.SetOverrides(ctx, 1, 42, changes, 9))

	ok, err := svc.Has(ctx, p, PermPOSRefund)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Has(ctx, p, PermPOSSell)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetOverridesEmptyBatchIsNoOp(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := principal(RoleEmployee)

	_, err := svc.Resolve(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 1, repo.listCalls)

	require.NoError(t, svc.SetOverrides(ctx, 1, 42, nil, 9))
	require.NoError(t, svc.SetOverrides(ctx, 1, 42, []OverrideChange{}, 9))

	_, err = svc.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "empty batch must not invalidate the cache")
}

func TestSetOverridesRejectsUnknownPermissionBeforeWriting(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	changes := []OverrideChange{
		{Permission: PermPOSRefund, Granted: true},
		{Permission: Permission("bogus:perm"), Granted: true},
	}
	err := svc.SetOverrides(ctx, 1, 42, changes, 9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPermission))

	rows, err := svc.GetOverrides(ctx, 1, 42)
	require.NoError(t, err)
	assert.Empty(t, rows, "validation failure must leave no partial writes")
}

func TestGetOverridesBypassesCache(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, "audit trail"))
	_, err := svc.Resolve(ctx, principal(RoleEmployee))
	require.NoError(t, err)
	before := repo.listCalls

	rows, err := svc.GetOverrides(ctx, 1, 42)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(9), rows[0].GrantedBy)
	assert.Equal(t, "audit trail", rows[0].Reason)
	assert.Equal(t, before+1, repo.listCalls, "admin view always reads the store")
}

// ============================================================================
// ADMIN PROJECTION
// ============================================================================

type mockDirectory struct {
	role Role
	err  error
}

func (m mockDirectory) GetRole(ctx context.Context, tenantID, userID int64) (Role, error) {
	return m.role, m.err
}

func TestGetUserPermissionsDetail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, 1, 42, PermPOSRefund, 9, ""))

	detail, err := svc.GetUserPermissionsDetail(ctx, mockDirectory{role: RoleEmployee}, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), detail.UserID)
	assert.Equal(t, RoleEmployee, detail.Role)
	assert.Contains(t, detail.Permissions, PermPOSRefund)
	assert.Contains(t, detail.Permissions, PermPOSSell)
	require.Len(t, detail.Overrides, 1)
	assert.Equal(t, PermPOSRefund, detail.Overrides[0].Permission)
}

func TestGetUserPermissionsDetailUnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GetUserPermissionsDetail(context.Background(), mockDirectory{err: ErrUnknownUser}, 1, 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownUser))
}
