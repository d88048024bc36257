package auth

import "time"

// User statuses. Disabled and locked users keep their rows but fail every
// authentication path.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
	UserStatusLocked   = "locked"
)

// DefaultScope is applied when a client has no scope configured.
const DefaultScope = "openid profile email"

// Tenant is the isolation boundary. Every cross-entity read verifies tenant
// equality before use.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is a resource owner inside one tenant.
type User struct {
	ID              string
	TenantID        string
	Email           string
	NormalizedEmail string
	PasswordHash    string
	Locale          string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Credential is one authentication factor for a user. Only the password
// type is issued today; the row shape leaves room for others.
type Credential struct {
	ID        string
	UserID    string
	Type      string
	Secret    string
	Meta      string
	CreatedAt time.Time
}

// Client is a registered OAuth2 relying party. ClientID is the public
// identifier; ID is the storage key.
type Client struct {
	ID           string
	ClientID     string
	TenantID     string
	ClientSecret string
	RedirectURIs []string
	Scope        string
	CreatedAt    time.Time
}

// Role groups permissions within a tenant.
type Role struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	BuiltIn     bool
	CreatedAt   time.Time
}

// Permission is a fine-grained capability, unique per (tenant, action,
// resource).
type Permission struct {
	ID        string
	TenantID  string
	Action    string
	Resource  string
	CreatedAt time.Time
}

// Key renders the canonical "action:resource" form.
func (p Permission) Key() string { return p.Action + ":" + p.Resource }

// UserRole assigns a role to a user. An empty ClientID is a tenant-global
// grant; otherwise the grant applies to that client only.
type UserRole struct {
	UserID    string
	RoleID    string
	ClientID  string
	CreatedAt time.Time
}

// ClientRole exposes a role to every user of a client.
type ClientRole struct {
	ClientID  string
	RoleID    string
	CreatedAt time.Time
}

// AuthorizationCode is the single-use credential minted by /authorize.
type AuthorizationCode struct {
	ID                  string
	Code                string
	ClientID            string
	TenantID            string
	UserID              string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
	IP                  string
	UserAgent           string
	CreatedAt           time.Time
}

// Session binds a refresh token (by hash) to a user and client. The stored
// hash and expiry are replaced in place on every rotation.
type Session struct {
	ID               string
	TenantID         string
	UserID           string
	ClientID         string
	RefreshTokenHash string
	UserAgent        string
	IP               string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// RoleGrant is a resolved role with its flattened permission strings.
type RoleGrant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// TokenBundle is the uniform output of every issuance path.
type TokenBundle struct {
	TokenType        string `json:"token_type"`
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	Scope            string `json:"scope"`
	SessionID        string `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}
