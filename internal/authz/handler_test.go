package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-erp/keystone-erp/internal/shared"
)

func newTestHandler(t *testing.T) (*Handler, *Service) {
	t.Helper()
	svc, _ := newTestService()
	guard := Middleware{Service: svc}
	return NewHandler(nil, svc, mockDirectory{role: RoleEmployee}, guard), svc
}

func adminRequest(method, target string, body any, actor Principal) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	ctx := ContextWithPrincipal(req.Context(), actor)
	ctx = shared.ContextWithScope(ctx, shared.Scope{TenantID: actor.TenantID, UserID: actor.UserID})
	return req.WithContext(ctx)
}

func serveAdmin(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/api/admin/permissions", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCatalog(t *testing.T) {
	h, _ := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	rec := serveAdmin(h, adminRequest(http.MethodGet, "/api/admin/permissions/catalog", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Permissions []Permission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Permissions, len(AllPermissions()))
}

func TestHandlerCatalogForbiddenForEmployee(t *testing.T) {
	h, _ := newTestHandler(t)
	employee := Principal{UserID: 42, TenantID: 1, Role: RoleEmployee}

	rec := serveAdmin(h, adminRequest(http.MethodGet, "/api/admin/permissions/catalog", nil, employee))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerGrant(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	body := map[string]any{"permission": "pos:refund", "reason": "shift lead"}
	rec := serveAdmin(h, adminRequest(http.MethodPost, "/api/admin/permissions/users/42/grant", body, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := svc.GetOverrides(context.Background(), 1, 42)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, PermPOSRefund, rows[0].Permission)
	assert.True(t, rows[0].Granted)
	assert.Equal(t, int64(9), rows[0].GrantedBy)
	assert.Equal(t, "shift lead", rows[0].Reason)
}

func TestHandlerGrantUnknownPermission(t *testing.T) {
	h, _ := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	body := map[string]any{"permission": "pos:steal"}
	rec := serveAdmin(h, adminRequest(http.MethodPost, "/api/admin/permissions/users/42/grant", body, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGrantMissingPermissionField(t *testing.T) {
	h, _ := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	rec := serveAdmin(h, adminRequest(http.MethodPost, "/api/admin/permissions/users/42/grant", map[string]any{}, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRevoke(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	body := map[string]any{"permission": "pos:sell", "reason": "register incident"}
	rec := serveAdmin(h, adminRequest(http.MethodPost, "/api/admin/permissions/users/42/revoke", body, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	ok, err := svc.Has(context.Background(), Principal{UserID: 42, TenantID: 1, Role: RoleEmployee}, PermPOSSell)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandlerSetOverrides(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	body := map[string]any{
		"overrides": []map[string]any{
			{"permission": "pos:refund", "granted": true},
			{"permission": "pos:sell", "granted": false},
		},
	}
	rec := serveAdmin(h, adminRequest(http.MethodPut, "/api/admin/permissions/users/42/overrides", body, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := svc.GetOverrides(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestHandlerRemoveOverride(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	require.NoError(t, svc.Grant(context.Background(), 1, 42, PermPOSRefund, 9, ""))

	rec := serveAdmin(h, adminRequest(http.MethodDelete, "/api/admin/permissions/users/42/overrides/pos:refund", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := svc.GetOverrides(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHandlerRemoveAllOverrides(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	require.NoError(t, svc.Grant(context.Background(), 1, 42, PermPOSRefund, 9, ""))
	require.NoError(t, svc.Revoke(context.Background(), 1, 42, PermPOSSell, 9, ""))

	rec := serveAdmin(h, adminRequest(http.MethodDelete, "/api/admin/permissions/users/42/overrides", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := svc.GetOverrides(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHandlerUserDetail(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	require.NoError(t, svc.Grant(context.Background(), 1, 42, PermPOSRefund, 9, ""))

	rec := serveAdmin(h, adminRequest(http.MethodGet, "/api/admin/permissions/users/42", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail PermissionsDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, int64(42), detail.UserID)
	assert.Equal(t, RoleEmployee, detail.Role)
	assert.Contains(t, detail.Permissions, PermPOSRefund)
}

func TestHandlerInvalidUserID(t *testing.T) {
	h, _ := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	rec := serveAdmin(h, adminRequest(http.MethodGet, "/api/admin/permissions/users/bogus", nil, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerMissingTenantScope(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/permissions/users/42", nil)
	req = req.WithContext(ContextWithPrincipal(req.Context(), Principal{UserID: 9, Role: RoleAdmin}))
	rec := serveAdmin(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerClearCache(t *testing.T) {
	h, svc := newTestHandler(t)
	admin := Principal{UserID: 9, TenantID: 1, Role: RoleAdmin}

	svc.Cache().Set(1, 42, map[Permission]bool{PermPOSRefund: true})

	rec := serveAdmin(h, adminRequest(http.MethodPost, "/api/admin/permissions/cache/clear", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := svc.Cache().Get(1, 42)
	assert.False(t, ok)
}

func TestHandlerManageRoutesRejectViewOnly(t *testing.T) {
	h, svc := newTestHandler(t)
	viewer := Principal{UserID: 7, TenantID: 1, Role: RoleEmployee}

	require.NoError(t, svc.Grant(context.Background(), 1, 7, PermPermissionsView, 9, ""))

	rec := serveAdmin(h, adminRequest(http.MethodGet, "/api/admin/permissions/catalog", nil, viewer))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := map[string]any{"permission": "pos:refund"}
	rec = serveAdmin(h, adminRequest(http.MethodPost, "/api/admin/permissions/users/42/grant", body, viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
