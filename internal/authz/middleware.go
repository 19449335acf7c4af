package authz

import (
	"log/slog"
	"net/http"
)

// Middleware wires authorization guards for HTTP handlers. Denials are
// deliberately generic towards the client: the missing permission is logged,
// never returned, so probing requests cannot enumerate the catalog.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	Metrics MetricsRecorder
}

// RequireAny allows the request when the principal holds at least one of the
// listed permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.require(RequireAnyOf, perms)
}

// RequireAll allows the request only when the principal holds every listed
// permission.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.require(RequireAllOf, perms)
}

func (m Middleware) require(mode RequireMode, perms []Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// No declared requirement means the operation is unguarded.
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.observe("deny", "unauthenticated")
				m.log(slog.LevelInfo, "authorization denied: no principal", r, perms, "unauthenticated")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			decision, err := m.Service.Check(r.Context(), principal, perms, mode)
			if err != nil {
				// Fail closed: a resolver failure is a server error, never a
				// silent allow or a plain deny.
				m.observe("error", "store_failure")
				m.log(slog.LevelError, "authorization resolution failed", r, perms, err.Error())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !decision.Allowed {
				m.observe("deny", decision.Reason)
				m.log(slog.LevelInfo, "authorization denied", r, perms, decision.Reason)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			m.observe("allow", decision.Reason)
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) observe(outcome, reason string) {
	if m.Metrics != nil {
		m.Metrics.AuthzDecision(outcome, reason)
	}
}

func (m Middleware) log(level slog.Level, msg string, r *http.Request, perms []Permission, reason string) {
	if m.Logger == nil {
		return
	}
	required := make([]string, len(perms))
	for i, p := range perms {
		required[i] = string(p)
	}
	m.Logger.Log(r.Context(), level, msg,
		slog.String("path", r.URL.Path),
		slog.Any("required", required),
		slog.String("reason", reason),
	)
}
