package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authgate.dev/internal/password"
	"authgate.dev/internal/token"
)

const (
	defaultAccessTTL  = 10 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour

	authCodeTTL        = 300 * time.Second
	authCodeLength     = 32
	refreshTokenLength = 48
)

// Service implements the token/session engine: login, the authorization
// code flow, token exchange with refresh rotation, and userinfo.
type Service struct {
	store  Store
	tokens *token.Service

	now          func() time.Time
	pepper       string
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	defaultScope string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithPepper sets the server-wide password pepper.
func WithPepper(pepper string) Option {
	return func(s *Service) { s.pepper = pepper }
}

// WithIssuer pins the token issuer. When unset, the per-request origin is
// used instead.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = strings.TrimSpace(issuer) }
}

// WithAccessTTL configures the access/ID token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// NewService constructs the auth service.
func NewService(store Store, tokens *token.Service, opts ...Option) *Service {
	s := &Service{
		store:        store,
		tokens:       tokens,
		now:          time.Now,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		defaultScope: DefaultScope,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest creates a user (and its tenant on first use).
type RegisterRequest struct {
	TenantID   string
	TenantName string
	Email      string
	Password   string
	Locale     string
}

// RegisterResult reports the created identifiers.
type RegisterResult struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Locale   string `json:"locale"`
}

// Register provisions the tenant if needed, rejects duplicate emails within
// the tenant, and stores the user with a hashed password credential.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return RegisterResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidRequest)
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = "tenant-demo"
	}
	tenantName := strings.TrimSpace(req.TenantName)
	if tenantName == "" {
		tenantName = tenantID
	}
	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = "en"
	}

	if err := s.store.EnsureTenant(ctx, &Tenant{ID: tenantID, Name: tenantName}); err != nil {
		return RegisterResult{}, err
	}
	if _, err := s.store.UserByEmail(ctx, tenantID, email); err == nil {
		return RegisterResult{}, fmt.Errorf("%w: user already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return RegisterResult{}, err
	}

	hash, err := password.Hash(req.Password, s.pepper)
	if err != nil {
		return RegisterResult{}, err
	}
	user := &User{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Email:           email,
		NormalizedEmail: email,
		PasswordHash:    hash,
		Locale:          locale,
		Status:          UserStatusActive,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return RegisterResult{}, err
	}
	cred := &Credential{
		ID:     uuid.NewString(),
		UserID: user.ID,
		Type:   "password",
		Secret: hash,
		Meta:   "{}",
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{UserID: user.ID, TenantID: tenantID, Email: email, Locale: locale}, nil
}

// LoginRequest authenticates a resource owner against a known client.
type LoginRequest struct {
	TenantID  string
	ClientID  string
	Email     string
	Password  string
	UserAgent string
	IP        string
	Origin    string
}

// Login verifies credentials and issues a fresh token bundle plus session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (TokenBundle, *User, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return TokenBundle{}, nil, fmt.Errorf("%w: email and password are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return TokenBundle{}, nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = "tenant-demo"
	}

	user, err := s.store.UserByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenBundle{}, nil, fmt.Errorf("%w: invalid credentials", ErrAuthentication)
		}
		return TokenBundle{}, nil, err
	}
	if user.Status != UserStatusActive {
		return TokenBundle{}, nil, fmt.Errorf("%w: user disabled or locked", ErrForbidden)
	}
	if !password.Verify(req.Password, user.PasswordHash, s.pepper) {
		return TokenBundle{}, nil, fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	}

	client, err := s.store.ClientByPublicID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenBundle{}, nil, fmt.Errorf("%w: unknown client_id", ErrInvalidRequest)
		}
		return TokenBundle{}, nil, err
	}
	if client.TenantID != user.TenantID {
		return TokenBundle{}, nil, fmt.Errorf("%w: tenant mismatch", ErrForbidden)
	}

	roles, err := s.ResolveRoles(ctx, user.ID, user.TenantID, client.ID)
	if err != nil {
		return TokenBundle{}, nil, err
	}
	bundle, err := s.issueTokens(ctx, user, client, scopeOr(client.Scope, s.defaultScope), roles, req.UserAgent, req.IP, req.Origin)
	if err != nil {
		return TokenBundle{}, nil, err
	}
	return bundle, user, nil
}

// AuthorizeRequest carries the /authorize query plus request context.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	BearerToken         string
	UserAgent           string
	IP                  string
}

// Authorize validates the authorization request against an authenticated
// resource owner and mints a single-use code.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.ResponseType != "code" {
		return "", fmt.Errorf("%w: response_type must be code", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.RedirectURI) == "" {
		return "", fmt.Errorf("%w: client_id and redirect_uri are required", ErrInvalidRequest)
	}
	method := req.CodeChallengeMethod
	if method == "" {
		method = "S256"
	}
	if method != "S256" {
		return "", fmt.Errorf("%w: only PKCE S256 is supported", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.CodeChallenge) == "" {
		return "", fmt.Errorf("%w: code_challenge is required", ErrInvalidRequest)
	}

	client, err := s.store.ClientByPublicID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: unknown client", ErrInvalidRequest)
		}
		return "", err
	}
	if !contains(client.RedirectURIs, req.RedirectURI) {
		return "", fmt.Errorf("%w: invalid redirect_uri", ErrInvalidRequest)
	}

	if req.BearerToken == "" {
		return "", fmt.Errorf("%w: login required before authorize", ErrAuthentication)
	}
	claims, err := s.tokens.Verify(req.BearerToken)
	if err != nil {
		return "", fmt.Errorf("%w: invalid token", ErrAuthentication)
	}
	userID, _ := claims["sub"].(string)
	tenantID, _ := claims["tid"].(string)
	if userID == "" {
		return "", fmt.Errorf("%w: invalid token", ErrAuthentication)
	}
	if tenantID != client.TenantID {
		return "", fmt.Errorf("%w: client and user tenant mismatch", ErrForbidden)
	}
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: user not found", ErrAuthentication)
		}
		return "", err
	}
	if user.Status != UserStatusActive {
		return "", fmt.Errorf("%w: user inactive", ErrForbidden)
	}

	code, err := randomToken(authCodeLength)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	record := &AuthorizationCode{
		ID:                  uuid.NewString(),
		Code:                code,
		ClientID:            client.ID,
		TenantID:            tenantID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scope:               scopeOr(req.Scope, s.defaultScope),
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(authCodeTTL),
		IP:                  req.IP,
		UserAgent:           req.UserAgent,
	}
	if err := s.store.CreateAuthorizationCode(ctx, record); err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeRequest is the authorization_code grant input.
type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	UserAgent    string
	IP           string
	Origin       string
}

// Exchange consumes an authorization code exactly once and issues a token
// bundle bound to a new session.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (TokenBundle, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenBundle{}, err
	}
	if req.Code == "" || req.RedirectURI == "" || req.CodeVerifier == "" {
		return TokenBundle{}, fmt.Errorf("%w: code, redirect_uri, code_verifier are required", ErrInvalidRequest)
	}

	record, err := s.store.AuthorizationCodeByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenBundle{}, fmt.Errorf("%w: invalid authorization code", ErrInvalidRequest)
		}
		return TokenBundle{}, err
	}
	if record.ConsumedAt != nil {
		return TokenBundle{}, fmt.Errorf("%w: authorization code used", ErrInvalidRequest)
	}
	now := s.now().UTC()
	if now.After(record.ExpiresAt) {
		return TokenBundle{}, fmt.Errorf("%w: authorization code expired", ErrInvalidRequest)
	}
	if record.ClientID != client.ID {
		return TokenBundle{}, fmt.Errorf("%w: client mismatch", ErrInvalidRequest)
	}
	if record.RedirectURI != req.RedirectURI {
		return TokenBundle{}, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidRequest)
	}
	if record.CodeChallenge != "" {
		if hashToken(req.CodeVerifier) != record.CodeChallenge {
			return TokenBundle{}, fmt.Errorf("%w: invalid code_verifier", ErrInvalidRequest)
		}
	}

	// Single atomic conditional update; a concurrent exchange losing the
	// race observes zero rows affected.
	consumed, err := s.store.ConsumeAuthorizationCode(ctx, record.ID, now)
	if err != nil {
		return TokenBundle{}, err
	}
	if !consumed {
		return TokenBundle{}, fmt.Errorf("%w: authorization code used", ErrInvalidRequest)
	}

	user, err := s.store.UserByID(ctx, record.UserID)
	if err != nil {
		return TokenBundle{}, err
	}
	roles, err := s.ResolveRoles(ctx, user.ID, record.TenantID, client.ID)
	if err != nil {
		return TokenBundle{}, err
	}
	return s.issueTokens(ctx, user, client, record.Scope, roles, req.UserAgent, req.IP, req.Origin)
}

// RefreshRequest is the refresh_token grant input for the token endpoint.
type RefreshRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Origin       string
}

// Refresh rotates the presented refresh token's session and issues a fresh
// bundle. The old token is invalid the moment rotation commits.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (TokenBundle, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenBundle{}, err
	}
	if req.RefreshToken == "" {
		return TokenBundle{}, fmt.Errorf("%w: refresh_token required", ErrInvalidRequest)
	}
	session, err := s.lookupSession(ctx, req.RefreshToken)
	if err != nil {
		return TokenBundle{}, err
	}
	if session.ClientID != "" && session.ClientID != client.ID {
		return TokenBundle{}, fmt.Errorf("%w: client mismatch", ErrForbidden)
	}
	return s.rotate(ctx, session, client, req.Origin)
}

// RefreshSession is the cookie convenience path: the session's own bound
// client is used, with no client authentication.
func (s *Service) RefreshSession(ctx context.Context, refreshToken, origin string) (TokenBundle, error) {
	if refreshToken == "" {
		return TokenBundle{}, fmt.Errorf("%w: refresh_token required", ErrInvalidRequest)
	}
	session, err := s.lookupSession(ctx, refreshToken)
	if err != nil {
		return TokenBundle{}, err
	}
	client, err := s.store.ClientByID(ctx, session.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenBundle{}, fmt.Errorf("%w: client not found for session", ErrInvalidRequest)
		}
		return TokenBundle{}, err
	}
	return s.rotate(ctx, session, client, origin)
}

// Logout revokes the session bound to the presented refresh token. Unknown
// tokens succeed silently; revocation is idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	session, err := s.lookupSession(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil
		}
		return err
	}
	return s.store.RevokeSession(ctx, session.ID, s.now().UTC())
}

// UserInfo is the OIDC userinfo response.
type UserInfo struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Locale        string   `json:"locale,omitempty"`
	TenantID      string   `json:"tid"`
	Roles         []string `json:"roles"`
	Perms         []string `json:"perms"`
}

// ResolveUserInfo verifies the access token and returns the subject's
// profile with freshly resolved roles and permissions.
func (s *Service) ResolveUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: invalid token", ErrAuthentication)
	}
	if use, ok := claims["token_use"].(string); ok && use != "access" {
		return UserInfo{}, fmt.Errorf("%w: invalid token use", ErrAuthentication)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return UserInfo{}, fmt.Errorf("%w: invalid token", ErrAuthentication)
	}
	user, err := s.store.UserByID(ctx, sub)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserInfo{}, fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return UserInfo{}, err
	}

	var roles []RoleGrant
	if aud := audienceClaim(claims); aud != "" {
		if client, err := s.store.ClientByPublicID(ctx, aud); err == nil {
			roles, err = s.ResolveRoles(ctx, user.ID, user.TenantID, client.ID)
			if err != nil {
				return UserInfo{}, err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return UserInfo{}, err
		}
	}
	return UserInfo{
		Sub:           user.ID,
		Email:         user.Email,
		EmailVerified: true,
		Locale:        user.Locale,
		TenantID:      user.TenantID,
		Roles:         roleNames(roles),
		Perms:         FlattenPermissions(roles),
	}, nil
}

// Issuer resolves the issuer claim: the configured value when present,
// otherwise the request origin.
func (s *Service) Issuer(origin string) string {
	if s.issuer != "" {
		return s.issuer
	}
	return origin
}

// AccessTTL exposes the access token lifetime for cookie/expiry headers.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: client_id required", ErrInvalidRequest)
	}
	client, err := s.store.ClientByPublicID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown client", ErrInvalidRequest)
		}
		return nil, err
	}
	if client.ClientSecret != "" && clientSecret != client.ClientSecret {
		return nil, fmt.Errorf("%w: invalid client secret", ErrAuthentication)
	}
	return client, nil
}

func (s *Service) lookupSession(ctx context.Context, refreshToken string) (*Session, error) {
	session, err := s.store.SessionByRefreshHash(ctx, hashToken(refreshToken), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid refresh token", ErrAuthentication)
		}
		return nil, err
	}
	return session, nil
}

// issueTokens creates a session and signs the access/ID/refresh triple.
func (s *Service) issueTokens(ctx context.Context, user *User, client *Client, scope string, roles []RoleGrant, userAgent, ip, origin string) (TokenBundle, error) {
	refreshToken, err := randomToken(refreshTokenLength)
	if err != nil {
		return TokenBundle{}, err
	}
	now := s.now().UTC()
	session := &Session{
		ID:               uuid.NewString(),
		TenantID:         user.TenantID,
		UserID:           user.ID,
		ClientID:         client.ID,
		RefreshTokenHash: hashToken(refreshToken),
		UserAgent:        userAgent,
		IP:               ip,
		ExpiresAt:        now.Add(s.refreshTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return TokenBundle{}, err
	}
	return s.signBundle(user, client, scope, roles, session.ID, refreshToken, session.ExpiresAt, origin)
}

// rotate replaces the session's stored hash and expiry in place and signs a
// fresh triple with freshly resolved roles.
func (s *Service) rotate(ctx context.Context, session *Session, client *Client, origin string) (TokenBundle, error) {
	user, err := s.store.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenBundle{}, fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return TokenBundle{}, err
	}
	roles, err := s.ResolveRoles(ctx, user.ID, user.TenantID, client.ID)
	if err != nil {
		return TokenBundle{}, err
	}
	refreshToken, err := randomToken(refreshTokenLength)
	if err != nil {
		return TokenBundle{}, err
	}
	expiresAt := s.now().UTC().Add(s.refreshTTL)
	if err := s.store.RotateSession(ctx, session.ID, hashToken(refreshToken), expiresAt); err != nil {
		return TokenBundle{}, err
	}
	scope := scopeOr(client.Scope, s.defaultScope)
	return s.signBundle(user, client, scope, roles, session.ID, refreshToken, expiresAt, origin)
}

func (s *Service) signBundle(user *User, client *Client, scope string, roles []RoleGrant, sessionID, refreshToken string, refreshExpiresAt time.Time, origin string) (TokenBundle, error) {
	names := roleNames(roles)
	perms := FlattenPermissions(roles)
	opts := token.SignOptions{
		TTL:      s.accessTTL,
		Issuer:   s.Issuer(origin),
		Audience: client.ClientID,
	}

	accessToken, err := s.tokens.Sign(map[string]any{
		"sub":       user.ID,
		"tid":       user.TenantID,
		"sid":       sessionID,
		"scope":     scope,
		"email":     user.Email,
		"token_use": "access",
		"roles":     names,
		"perms":     perms,
	}, opts)
	if err != nil {
		return TokenBundle{}, err
	}

	idClaims := map[string]any{
		"sub":       user.ID,
		"tid":       user.TenantID,
		"sid":       sessionID,
		"email":     user.Email,
		"scope":     scope,
		"token_use": "id",
		"roles":     names,
	}
	if user.Locale != "" {
		idClaims["locale"] = user.Locale
	}
	idToken, err := s.tokens.Sign(idClaims, opts)
	if err != nil {
		return TokenBundle{}, err
	}

	return TokenBundle{
		TokenType:        "Bearer",
		AccessToken:      accessToken,
		IDToken:          idToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int(s.accessTTL / time.Second),
		Scope:            scope,
		SessionID:        sessionID,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scopeOr(scope, fallback string) string {
	if strings.TrimSpace(scope) == "" {
		return fallback
	}
	return scope
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func roleNames(roles []RoleGrant) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

func audienceClaim(claims jwt.MapClaims) string {
	switch aud := claims["aud"].(type) {
	case string:
		return aud
	case []any:
		if len(aud) > 0 {
			if s, ok := aud[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// randomToken returns n cryptographically random bytes, base64url encoded.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken is the plain SHA-256 digest used for refresh tokens and PKCE
// verifiers; both inputs are already high-entropy.
func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
