package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgate.dev/internal/auth"
)

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, name, description, built_in)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, r.ID, r.TenantID, r.Name, r.Description, r.BuiltIn).Scan(&r.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) RoleByID(ctx context.Context, id string) (*auth.Role, error) {
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, description, built_in, created_at
		from roles
		where id = $1
	`, id).Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.BuiltIn, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) RolesByTenant(ctx context.Context, tenantID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, name, description, built_in, created_at
		from roles
		where tenant_id = $1
		order by name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) EnsurePermission(ctx context.Context, p *auth.Permission) (string, error) {
	// The no-op update makes "do nothing" still return the existing id.
	var id string
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, tenant_id, action, resource)
		values ($1, $2, $3, $4)
		on conflict (tenant_id, action, resource) do update set action = excluded.action
		returning id
	`, p.ID, p.TenantID, p.Action, p.Resource).Scan(&id)
	if err != nil {
		return "", mapWriteError(err)
	}
	return id, nil
}

func (s *Store) PermissionsByTenant(ctx context.Context, tenantID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, action, resource, created_at
		from permissions
		where tenant_id = $1
		order by action, resource
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make([]auth.Permission, 0)
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Action, &p.Resource, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) LinkRolePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, permissionID)
	return mapWriteError(err)
}

func (s *Store) AssignUserRole(ctx context.Context, ur auth.UserRole) error {
	// client_id '' marks a tenant-global grant.
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, client_id)
		values ($1, $2, $3)
		on conflict do nothing
	`, ur.UserID, ur.RoleID, ur.ClientID)
	return mapWriteError(err)
}

func (s *Store) AssignClientRole(ctx context.Context, cr auth.ClientRole) error {
	_, err := s.db.ExecContext(ctx, `
		insert into client_roles (client_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, cr.ClientID, cr.RoleID)
	return mapWriteError(err)
}

func (s *Store) UserRoles(ctx context.Context, userID, tenantID, clientID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.tenant_id, r.name, r.description, r.built_in, r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		  and r.tenant_id = $2
		  and (ur.client_id = '' or ur.client_id = $3)
		order by r.name
	`, userID, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) ClientRoles(ctx context.Context, clientID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.tenant_id, r.name, r.description, r.built_in, r.created_at
		from client_roles cr
		join roles r on r.id = cr.role_id
		where cr.client_id = $1
		order by r.name
	`, clientID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) RolePermissionKeys(ctx context.Context, roleIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select rp.role_id, p.action, p.resource
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = any($1)
		order by p.action, p.resource
	`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var roleID, action, resource string
		if err := rows.Scan(&roleID, &action, &resource); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], action+":"+resource)
	}
	return out, rows.Err()
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	roles := make([]auth.Role, 0)
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.BuiltIn, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}
