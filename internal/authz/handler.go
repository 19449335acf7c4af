package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keystone-erp/keystone-erp/internal/platform/httpx"
	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// Handler exposes the override administration API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	directory UserDirectory
	guard     Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, directory UserDirectory, guard Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		directory: directory,
		guard:     guard,
		validator: validator.New(),
	}
}

// MountRoutes registers permission administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(PermPermissionsView))
		r.Get("/catalog", h.listCatalog)
		r.Get("/users/{userID}", h.userDetail)
		r.Get("/users/{userID}/overrides", h.listOverrides)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(PermPermissionsManage))
		r.Post("/users/{userID}/grant", h.grant)
		r.Post("/users/{userID}/revoke", h.revoke)
		r.Put("/users/{userID}/overrides", h.setOverrides)
		r.Delete("/users/{userID}/overrides/{permission}", h.removeOverride)
		r.Delete("/users/{userID}/overrides", h.removeAllOverrides)
		r.Post("/cache/clear", h.clearCache)
	})
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": AllPermissions()})
}

func (h *Handler) userDetail(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetUserPermissionsDetail(r.Context(), h.directory, tenantID, userID)
	if err != nil {
		h.respondErr(w, r, "user permissions detail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	overrides, err := h.service.GetOverrides(r.Context(), tenantID, userID)
	if err != nil {
		h.respondErr(w, r, "list overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": toOverrideResponses(overrides)})
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.applyGrant(w, r, true)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.applyGrant(w, r, false)
}

func (h *Handler) applyGrant(w http.ResponseWriter, r *http.Request, granted bool) {
	tenantID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	actor, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	var err error
	if granted {
		err = h.service.Grant(r.Context(), tenantID, userID, Permission(req.Permission), actor.UserID, req.Reason)
	} else {
		err = h.service.Revoke(r.Context(), tenantID, userID, Permission(req.Permission), actor.UserID, req.Reason)
	}
	if err != nil {
		h.respondErr(w, r, "apply override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": req.Permission, "granted": granted})
}

func (h *Handler) setOverrides(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	actor, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req setOverridesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	changes := make([]OverrideChange, len(req.Overrides))
	for i, change := range req.Overrides {
		changes[i] = OverrideChange{
			Permission: Permission(change.Permission),
			Granted:    change.Granted,
			Reason:     change.Reason,
		}
	}
	if err := h.service.SetOverrides(r.Context(), tenantID, userID, changes, actor.UserID); err != nil {
		h.respondErr(w, r, "set overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"applied": len(changes)})
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	perm := Permission(chi.URLParam(r, "permission"))
	if err := h.service.RemoveOverride(r.Context(), tenantID, userID, perm); err != nil {
		h.respondErr(w, r, "remove override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": perm, "removed": true})
}

func (h *Handler) removeAllOverrides(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveAllOverrides(r.Context(), tenantID, userID); err != nil {
		h.respondErr(w, r, "remove all overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.service.Cache().Clear()
	httpx.JSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// scope extracts the target user id from the URL and the tenant from the
// bound request scope. Requests without a tenant are rejected explicitly.
func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID := shared.CurrentTenant(r.Context())
	if tenantID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, httpx.ErrValidation)
		return 0, 0, false
	}
	return tenantID, userID, true
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrUnknownUser):
		httpx.RespondError(w, httpx.ErrValidation)
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
