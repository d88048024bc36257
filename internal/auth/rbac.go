package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"authgate.dev/internal/ids"
)

// ResolveRoles computes the effective roles for a user against a client: the
// union of the user's direct assignments (tenant-global plus any scoped to
// this client) and the client's default roles, deduplicated by role id, each
// with its permissions attached.
func (s *Service) ResolveRoles(ctx context.Context, userID, tenantID, clientID string) ([]RoleGrant, error) {
	direct, err := s.store.UserRoles(ctx, userID, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	defaults, err := s.store.ClientRoles(ctx, clientID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(direct)+len(defaults))
	merged := make([]Role, 0, len(direct)+len(defaults))
	for _, list := range [][]Role{direct, defaults} {
		for _, r := range list {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			merged = append(merged, r)
		}
	}
	if len(merged) == 0 {
		return []RoleGrant{}, nil
	}

	roleIDs := make([]string, 0, len(merged))
	for _, r := range merged {
		roleIDs = append(roleIDs, r.ID)
	}
	permsByRole, err := s.store.RolePermissionKeys(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	grants := make([]RoleGrant, 0, len(merged))
	for _, r := range merged {
		perms := permsByRole[r.ID]
		if perms == nil {
			perms = []string{}
		}
		grants = append(grants, RoleGrant{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Permissions: perms,
		})
	}
	return grants, nil
}

// FlattenPermissions collects the distinct "action:resource" keys across a
// set of role grants, sorted for stable token claims.
func FlattenPermissions(roles []RoleGrant) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, r := range roles {
		for _, p := range r.Permissions {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// CreateRoleRequest defines a role with a permission set and optional client
// defaults, all within one tenant.
type CreateRoleRequest struct {
	TenantID    string   `json:"tenant_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	ClientIDs   []string `json:"client_ids"`
}

// CreateRole creates the role, lazily ensures each referenced permission
// exists, links them, and optionally registers the role as a default for the
// listed clients. Clients outside the role's tenant are rejected.
func (s *Service) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	name := strings.TrimSpace(req.Name)
	if req.TenantID == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant_id and name are required", ErrInvalidRequest)
	}
	role := &Role{
		ID:          ids.New(),
		TenantID:    req.TenantID,
		Name:        name,
		Description: req.Description,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	for _, key := range req.Permissions {
		action, resource, ok := splitPermissionKey(key)
		if !ok {
			return nil, fmt.Errorf("%w: permission %q must be action:resource", ErrInvalidRequest, key)
		}
		permID, err := s.store.EnsurePermission(ctx, &Permission{
			ID:       uuid.NewString(),
			TenantID: req.TenantID,
			Action:   action,
			Resource: resource,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.LinkRolePermission(ctx, role.ID, permID); err != nil {
			return nil, err
		}
	}

	for _, clientID := range req.ClientIDs {
		client, err := s.store.ClientByID(ctx, clientID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown client %s", ErrInvalidRequest, clientID)
			}
			return nil, err
		}
		if client.TenantID != req.TenantID {
			return nil, fmt.Errorf("%w: client belongs to another tenant", ErrConflict)
		}
		if err := s.store.AssignClientRole(ctx, ClientRole{ClientID: clientID, RoleID: role.ID}); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// EnsurePermissionRequest upserts one permission key in a tenant.
type EnsurePermissionRequest struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// EnsurePermission creates the permission if it does not already exist and
// returns its id either way.
func (s *Service) EnsurePermission(ctx context.Context, req EnsurePermissionRequest) (string, error) {
	if req.TenantID == "" || req.Action == "" || req.Resource == "" {
		return "", fmt.Errorf("%w: tenant_id, action, resource are required", ErrInvalidRequest)
	}
	return s.store.EnsurePermission(ctx, &Permission{
		ID:       uuid.NewString(),
		TenantID: req.TenantID,
		Action:   req.Action,
		Resource: req.Resource,
	})
}

// AssignRoleRequest binds a role to a user, optionally scoped to a client.
type AssignRoleRequest struct {
	UserID   string `json:"user_id"`
	RoleID   string `json:"role_id"`
	ClientID string `json:"client_id,omitempty"`
}

// AssignRole grants a role to a user. The user and role must share a tenant;
// when a client scope is given, the client must too.
func (s *Service) AssignRole(ctx context.Context, req AssignRoleRequest) error {
	if req.UserID == "" || req.RoleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidRequest)
	}
	user, err := s.store.UserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown user", ErrNotFound)
		}
		return err
	}
	role, err := s.store.RoleByID(ctx, req.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown role", ErrNotFound)
		}
		return err
	}
	if role.TenantID != user.TenantID {
		return fmt.Errorf("%w: role belongs to another tenant", ErrConflict)
	}
	if req.ClientID != "" {
		client, err := s.store.ClientByID(ctx, req.ClientID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: unknown client", ErrNotFound)
			}
			return err
		}
		if client.TenantID != user.TenantID {
			return fmt.Errorf("%w: client belongs to another tenant", ErrConflict)
		}
	}
	return s.store.AssignUserRole(ctx, UserRole{
		UserID:   req.UserID,
		RoleID:   req.RoleID,
		ClientID: req.ClientID,
	})
}

// AssignClientRoleRequest registers a role as a client default.
type AssignClientRoleRequest struct {
	ClientID string `json:"client_id"`
	RoleID   string `json:"role_id"`
}

// AssignClientRole makes a role a default grant for every user of a client.
func (s *Service) AssignClientRole(ctx context.Context, req AssignClientRoleRequest) error {
	if req.ClientID == "" || req.RoleID == "" {
		return fmt.Errorf("%w: client_id and role_id are required", ErrInvalidRequest)
	}
	client, err := s.store.ClientByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown client", ErrNotFound)
		}
		return err
	}
	role, err := s.store.RoleByID(ctx, req.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown role", ErrNotFound)
		}
		return err
	}
	if role.TenantID != client.TenantID {
		return fmt.Errorf("%w: role belongs to another tenant", ErrConflict)
	}
	return s.store.AssignClientRole(ctx, ClientRole{ClientID: req.ClientID, RoleID: req.RoleID})
}

// AccessSummary is the admin view of effective access for a user/client pair.
type AccessSummary struct {
	Roles           []RoleGrant `json:"roles"`
	Permissions     []string    `json:"permissions"`
	ClientRoles     []Role      `json:"client_roles"`
	UserRoles       []Role      `json:"user_roles"`
	UserRoleNames   []string    `json:"user_role_names"`
	UserPermissions []string    `json:"user_permissions"`
}

// Summary reports a user's direct roles, a client's default roles, and the
// resolved union for the pair.
func (s *Service) Summary(ctx context.Context, userID, clientID string) (AccessSummary, error) {
	if userID == "" || clientID == "" {
		return AccessSummary{}, fmt.Errorf("%w: user_id and client_id are required", ErrInvalidRequest)
	}
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessSummary{}, fmt.Errorf("%w: unknown user", ErrNotFound)
		}
		return AccessSummary{}, err
	}
	direct, err := s.store.UserRoles(ctx, userID, user.TenantID, clientID)
	if err != nil {
		return AccessSummary{}, err
	}
	defaults, err := s.store.ClientRoles(ctx, clientID)
	if err != nil {
		return AccessSummary{}, err
	}
	resolved, err := s.ResolveRoles(ctx, userID, user.TenantID, clientID)
	if err != nil {
		return AccessSummary{}, err
	}
	return AccessSummary{
		Roles:           resolved,
		Permissions:     FlattenPermissions(resolved),
		ClientRoles:     defaults,
		UserRoles:       direct,
		UserRoleNames:   names(direct),
		UserPermissions: FlattenPermissions(resolved),
	}, nil
}

func names(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

func splitPermissionKey(key string) (action, resource string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(key), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
