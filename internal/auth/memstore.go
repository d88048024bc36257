package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and DSN-less development
// runs. All methods are safe for concurrent use; code consumption is
// serialized under the store lock.
type MemStore struct {
	mu sync.Mutex

	tenants     map[string]*Tenant
	users       map[string]*User
	credentials map[string]*Credential
	clients     map[string]*Client
	codes       map[string]*AuthorizationCode
	sessions    map[string]*Session
	roles       map[string]*Role
	permissions map[string]*Permission
	rolePerms   map[string]map[string]bool
	userRoles   []UserRole
	clientRoles []ClientRole
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tenants:     make(map[string]*Tenant),
		users:       make(map[string]*User),
		credentials: make(map[string]*Credential),
		clients:     make(map[string]*Client),
		codes:       make(map[string]*AuthorizationCode),
		sessions:    make(map[string]*Session),
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		rolePerms:   make(map[string]map[string]bool),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) EnsureTenant(ctx context.Context, tenant *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenant.ID]; ok {
		return nil
	}
	cp := *tenant
	cp.CreatedAt = time.Now().UTC()
	m.tenants[cp.ID] = &cp
	return nil
}

func (m *MemStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("%w: user id taken", ErrConflict)
	}
	for _, existing := range m.users {
		if existing.TenantID == u.TenantID && existing.NormalizedEmail == u.NormalizedEmail {
			return fmt.Errorf("%w: email taken", ErrConflict)
		}
	}
	cp := *u
	m.users[cp.ID] = &cp
	return nil
}

func (m *MemStore) CreateCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credentials[cp.ID] = &cp
	return nil
}

func (m *MemStore) UserByID(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) UserByEmail(ctx context.Context, tenantID, normalizedEmail string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == tenantID && u.NormalizedEmail == normalizedEmail {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// CreateClient registers a client row. It is not part of the Store
// interface; admin seeding and tests use it directly.
func (m *MemStore) CreateClient(ctx context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.clients {
		if existing.ClientID == c.ClientID {
			return fmt.Errorf("%w: client_id taken", ErrConflict)
		}
	}
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	m.clients[cp.ID] = &cp
	return nil
}

func (m *MemStore) ClientByPublicID(ctx context.Context, clientID string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.ClientID == clientID {
			return cloneClient(c), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ClientByID(ctx context.Context, id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneClient(c), nil
}

func (m *MemStore) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *code
	m.codes[cp.ID] = &cp
	return nil
}

func (m *MemStore) AuthorizationCodeByCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ConsumeAuthorizationCode(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.ConsumedAt != nil {
		return false, nil
	}
	ts := at
	c.ConsumedAt = &ts
	return true, nil
}

func (m *MemStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[cp.ID] = &cp
	return nil
}

func (m *MemStore) SessionByRefreshHash(ctx context.Context, hash string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash != hash {
			continue
		}
		if s.RevokedAt != nil || now.After(s.ExpiresAt) {
			return nil, ErrNotFound
		}
		cp := *s
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemStore) RotateSession(ctx context.Context, id, newHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = expiresAt
	s.RevokedAt = nil
	return nil
}

func (m *MemStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.RevokedAt == nil {
		ts := at
		s.RevokedAt = &ts
	}
	return nil
}

func (m *MemStore) CreateRole(ctx context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.TenantID == r.TenantID && existing.Name == r.Name {
			return fmt.Errorf("%w: role name taken", ErrConflict)
		}
	}
	cp := *r
	m.roles[cp.ID] = &cp
	return nil
}

func (m *MemStore) RoleByID(ctx context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) RolesByTenant(ctx context.Context, tenantID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0)
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemStore) EnsurePermission(ctx context.Context, p *Permission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.TenantID == p.TenantID && existing.Action == p.Action && existing.Resource == p.Resource {
			return existing.ID, nil
		}
	}
	cp := *p
	m.permissions[cp.ID] = &cp
	return cp.ID, nil
}

func (m *MemStore) PermissionsByTenant(ctx context.Context, tenantID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0)
	for _, p := range m.permissions {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemStore) LinkRolePermission(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.permissions[permissionID]; !ok {
		return ErrNotFound
	}
	if m.rolePerms[roleID] == nil {
		m.rolePerms[roleID] = make(map[string]bool)
	}
	m.rolePerms[roleID][permissionID] = true
	return nil
}

func (m *MemStore) AssignUserRole(ctx context.Context, ur UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.userRoles {
		if existing.UserID == ur.UserID && existing.RoleID == ur.RoleID && existing.ClientID == ur.ClientID {
			return nil
		}
	}
	ur.CreatedAt = time.Now().UTC()
	m.userRoles = append(m.userRoles, ur)
	return nil
}

func (m *MemStore) AssignClientRole(ctx context.Context, cr ClientRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.clientRoles {
		if existing.ClientID == cr.ClientID && existing.RoleID == cr.RoleID {
			return nil
		}
	}
	cr.CreatedAt = time.Now().UTC()
	m.clientRoles = append(m.clientRoles, cr)
	return nil
}

func (m *MemStore) UserRoles(ctx context.Context, userID, tenantID, clientID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0)
	for _, ur := range m.userRoles {
		if ur.UserID != userID {
			continue
		}
		if ur.ClientID != "" && ur.ClientID != clientID {
			continue
		}
		if r, ok := m.roles[ur.RoleID]; ok && r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemStore) ClientRoles(ctx context.Context, clientID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0)
	for _, cr := range m.clientRoles {
		if cr.ClientID != clientID {
			continue
		}
		if r, ok := m.roles[cr.RoleID]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemStore) RolePermissionKeys(ctx context.Context, roleIDs []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(roleIDs))
	for _, roleID := range roleIDs {
		keys := make([]string, 0)
		for permID := range m.rolePerms[roleID] {
			if p, ok := m.permissions[permID]; ok {
				keys = append(keys, p.Key())
			}
		}
		out[roleID] = keys
	}
	return out, nil
}

func cloneClient(c *Client) *Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	return &cp
}
