package locations

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keystone-erp/keystone-erp/internal/authz"
	"github.com/keystone-erp/keystone-erp/internal/platform/httpx"
	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// Handler exposes location listing and assignment administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     authz.Middleware
	scope     ScopeGuard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware, scope ScopeGuard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, scope: scope, validator: validator.New()}
}

// MountRoutes registers location routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(authz.PermWarehousesView))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(authz.PermWarehousesView))
		// Scoped roles may only inspect their own assigned location.
		r.Use(h.scope.RequireAssignedLocation())
		r.Get("/{locationID}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(authz.PermWarehousesManage))
		r.Put("/assignments/{userID}", h.assign)
		r.Delete("/assignments/{userID}", h.unassign)
	})
}

type assignRequest struct {
	LocationID int64 `json:"location_id" validate:"required,gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.CurrentTenant(r.Context())
	if tenantID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	list, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list locations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.CurrentTenant(r.Context())
	if tenantID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "locationID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	loc, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("get location", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.CurrentTenant(r.Context())
	if tenantID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	actor, _ := authz.PrincipalFromContext(r.Context())

	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	err = h.service.Assign(r.Context(), Assignment{
		TenantID:   tenantID,
		UserID:     userID,
		LocationID: req.LocationID,
		AssignedBy: actor.UserID,
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("assign location", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "location_id": req.LocationID})
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.CurrentTenant(r.Context())
	if tenantID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.service.Unassign(r.Context(), tenantID, userID); err != nil {
		h.logger.Error("unassign location", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "removed": true})
}
