package shared

import "context"

type sessionContextKey struct{}

type scopeContextKey struct{}

// Scope is the per-request tenant/user pair. It is bound once when a request
// enters and is read-only for the remainder of that request's call tree. A
// nested call may bind a new Scope for its extent; the outer context is
// untouched and remains in effect once the derived context is discarded.
type Scope struct {
	TenantID int64
	UserID   int64
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithScope binds the request scope.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext returns the bound scope, if any.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}

// CurrentTenant returns the tenant id bound to the request, or zero when none
// is bound. Callers that require a tenant must treat zero as absent and fail
// explicitly.
func CurrentTenant(ctx context.Context) int64 {
	scope, _ := ScopeFromContext(ctx)
	return scope.TenantID
}

// CurrentUser returns the acting user id and whether one is bound.
func CurrentUser(ctx context.Context) (int64, bool) {
	scope, ok := ScopeFromContext(ctx)
	if !ok || scope.UserID == 0 {
		return 0, false
	}
	return scope.UserID, true
}
