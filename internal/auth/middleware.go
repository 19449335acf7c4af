package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/keystone-erp/keystone-erp/internal/authz"
	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// Principal resolves the session into a verified identity and binds the
// request scope for the remainder of the call tree. Requests without a valid
// session pass through with no principal bound; guards downstream decide
// whether that is acceptable.
func (s *Service) Principal(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}
			raw := strings.TrimSpace(sess.User())
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				if logger != nil {
					logger.Error("parse session user id", slog.String("value", raw))
				}
				next.ServeHTTP(w, r)
				return
			}

			principal, err := s.LoadPrincipal(r.Context(), userID)
			if err != nil {
				// Unknown or deactivated account: continue unauthenticated.
				if logger != nil {
					logger.Warn("load principal", slog.Int64("user_id", userID), slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := authz.ContextWithPrincipal(r.Context(), principal)
			ctx = shared.ContextWithScope(ctx, shared.Scope{
				TenantID: principal.TenantID,
				UserID:   principal.UserID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
