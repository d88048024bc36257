// Package token signs and verifies the service's RS256 JWTs.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate.dev/internal/keys"
)

// ErrInvalidToken indicates the token failed verification.
var ErrInvalidToken = errors.New("token: invalid token")

// SignOptions carries the registered claims applied around the caller's
// custom claims. Zero-valued fields are omitted from the payload.
type SignOptions struct {
	TTL      time.Duration
	Issuer   string
	Audience string
}

// Service signs and verifies compact JWTs with the cached key material.
type Service struct {
	keys *keys.Manager
	now  func() time.Time
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

// NewService constructs a Service around the key manager.
func NewService(km *keys.Manager, opts ...Option) *Service {
	s := &Service{keys: km, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign produces a compact RS256 JWT. The header carries the manager's kid;
// the payload is iat plus the optional exp/iss/aud and the custom claims.
func (s *Service) Sign(claims map[string]any, opts SignOptions) (string, error) {
	private, err := s.keys.Private()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	payload := jwt.MapClaims{"iat": now.Unix()}
	if opts.TTL > 0 {
		payload["exp"] = now.Add(opts.TTL).Unix()
	}
	if opts.Issuer != "" {
		payload["iss"] = opts.Issuer
	}
	if opts.Audience != "" {
		payload["aud"] = opts.Audience
	}
	for k, v := range claims {
		if v == nil {
			continue
		}
		payload[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, payload)
	tok.Header["kid"] = s.keys.Kid()
	signed, err := tok.SignedString(private)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks structure, algorithm, signature and expiry, in that order,
// and returns the decoded claims. Every failure collapses to ErrInvalidToken
// except missing key material, which is surfaced as-is.
func (s *Service) Verify(raw string) (jwt.MapClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return nil, ErrInvalidToken
	}
	public, err := s.keys.Public()
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.Parse(raw, func(t *jwt.Token) (any, error) {
		return public, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
