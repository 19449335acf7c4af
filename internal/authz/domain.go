package authz

import (
	"context"
	"errors"
	"time"
)

// Override is a per-user exception to the role defaults. Granted=true adds a
// permission the role would not otherwise have, Granted=false removes one it
// would. Uniquely keyed by (user_id, permission).
type Override struct {
	TenantID   int64
	UserID     int64
	Permission Permission
	Granted    bool
	GrantedBy  int64
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OverrideChange describes one entry of a batch override update.
type OverrideChange struct {
	Permission Permission
	Granted    bool
	Reason     string
}

// Principal describes the authenticated actor as supplied by the session
// layer. The engine trusts it as already-verified identity.
type Principal struct {
	UserID   int64
	TenantID int64
	Role     Role
}

// RequireMode selects how a multi-permission requirement is combined.
type RequireMode int

const (
	// RequireAnyOf allows when at least one permission resolves true.
	RequireAnyOf RequireMode = iota
	// RequireAllOf allows only when every permission resolves true.
	RequireAllOf
)

// Decision is the internal outcome of a permission check. Reason is for
// logging and metrics only; it is never exposed to the caller.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decision reasons recorded in logs and metrics.
const (
	ReasonTopRole        = "top_role"
	ReasonRoleDefault    = "role_default"
	ReasonOverrideGrant  = "override_grant"
	ReasonOverrideRevoke = "override_revoke"
	ReasonNotGranted     = "not_granted"
	ReasonEmpty          = "empty_requirement"
)

var (
	// ErrUnknownRole indicates a principal carries a role outside the catalog.
	ErrUnknownRole = errors.New("authz: unknown role")
	// ErrUnknownPermission indicates a permission outside the closed catalog.
	ErrUnknownPermission = errors.New("authz: unknown permission")
	// ErrUnknownUser indicates an override refers to a user that does not exist.
	ErrUnknownUser = errors.New("authz: unknown user")
	// ErrStoreUnavailable wraps override store failures during resolution.
	// Resolution fails closed: the request is aborted, never silently allowed
	// on role defaults alone.
	ErrStoreUnavailable = errors.New("authz: override store unavailable")
)

type principalContextKey struct{}

// ContextWithPrincipal binds the authenticated principal for the request.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the bound principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
