package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth core.
// Implementations return ErrNotFound for missing rows and ErrConflict for
// uniqueness violations; they never interpret protocol semantics.
type Store interface {
	// Tenants.
	EnsureTenant(ctx context.Context, tenant *Tenant) error

	// Users and credentials.
	CreateUser(ctx context.Context, u *User) error
	CreateCredential(ctx context.Context, c *Credential) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, tenantID, normalizedEmail string) (*User, error)

	// Clients.
	ClientByPublicID(ctx context.Context, clientID string) (*Client, error)
	ClientByID(ctx context.Context, id string) (*Client, error)

	// Authorization codes. ConsumeAuthorizationCode must be a single atomic
	// conditional update: it reports false when the code was already
	// consumed, and exactly one concurrent caller may observe true.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	AuthorizationCodeByCode(ctx context.Context, code string) (*AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, id string, at time.Time) (bool, error)

	// Sessions. SessionByRefreshHash must not surface revoked or expired
	// rows; unknown, revoked and expired are all ErrNotFound.
	CreateSession(ctx context.Context, s *Session) error
	SessionByRefreshHash(ctx context.Context, hash string, now time.Time) (*Session, error)
	RotateSession(ctx context.Context, id, newHash string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error

	// RBAC.
	CreateRole(ctx context.Context, r *Role) error
	RoleByID(ctx context.Context, id string) (*Role, error)
	RolesByTenant(ctx context.Context, tenantID string) ([]Role, error)
	EnsurePermission(ctx context.Context, p *Permission) (string, error)
	PermissionsByTenant(ctx context.Context, tenantID string) ([]Permission, error)
	LinkRolePermission(ctx context.Context, roleID, permissionID string) error
	AssignUserRole(ctx context.Context, ur UserRole) error
	AssignClientRole(ctx context.Context, cr ClientRole) error
	// UserRoles returns roles directly assigned to the user that are either
	// tenant-global or scoped to the given client.
	UserRoles(ctx context.Context, userID, tenantID, clientID string) ([]Role, error)
	// ClientRoles returns the roles a client exposes to all of its users.
	ClientRoles(ctx context.Context, clientID string) ([]Role, error)
	// RolePermissionKeys maps each role id to its "action:resource" strings.
	RolePermissionKeys(ctx context.Context, roleIDs []string) (map[string][]string, error)
}
