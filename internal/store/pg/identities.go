package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"authgate.dev/internal/auth"
)

func (s *Store) EnsureTenant(ctx context.Context, tenant *auth.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into tenants (id, name)
		values ($1, $2)
		on conflict (id) do nothing
	`, tenant.ID, tenant.Name)
	return err
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, tenant_id, email, normalized_email, password_hash, locale, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, u.ID, u.TenantID, u.Email, u.NormalizedEmail, u.PasswordHash, u.Locale, u.Status).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) CreateCredential(ctx context.Context, c *auth.Credential) error {
	meta := c.Meta
	if meta == "" {
		meta = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		insert into credentials (id, user_id, type, secret, meta)
		values ($1, $2, $3, $4, $5)
	`, c.ID, c.UserID, c.Type, c.Secret, meta)
	return mapWriteError(err)
}

const userColumns = `id, tenant_id, email, normalized_email, password_hash, locale, status, created_at, updated_at`

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.NormalizedEmail, &u.PasswordHash,
		&u.Locale, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, tenantID, normalizedEmail string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where tenant_id = $1 and normalized_email = $2`,
		tenantID, normalizedEmail))
}

const clientColumns = `id, client_id, tenant_id, client_secret, redirect_uris, scope, created_at`

func scanClient(row *sql.Row) (*auth.Client, error) {
	var (
		c    auth.Client
		raw  []byte
		sec  sql.NullString
		scop sql.NullString
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.TenantID, &sec, &raw, &scop, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ClientSecret = sec.String
	c.Scope = scop.String
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.RedirectURIs); err != nil {
			return nil, fmt.Errorf("decode redirect_uris: %w", err)
		}
	}
	return &c, nil
}

func (s *Store) ClientByPublicID(ctx context.Context, clientID string) (*auth.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx,
		`select `+clientColumns+` from clients where client_id = $1`, clientID))
}

func (s *Store) ClientByID(ctx context.Context, id string) (*auth.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx,
		`select `+clientColumns+` from clients where id = $1`, id))
}

// CreateClient registers a relying party. Seeding and admin tooling use it;
// the auth core only reads clients.
func (s *Store) CreateClient(ctx context.Context, c *auth.Client) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encode redirect_uris: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into clients (id, client_id, tenant_id, client_secret, redirect_uris, scope)
		values ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.ClientID, c.TenantID, nullIfEmpty(c.ClientSecret), uris, nullIfEmpty(c.Scope))
	return mapWriteError(err)
}
