// Package keys loads and caches the RSA signing key pair and its public JWK.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

const defaultKid = "primary"

var errMissingKey = errors.New("keys: signing key is not configured")

// JWK is the public representation of the signing key. Private-key fields
// (d, p, q, dp, dq, qi, oth, key_ops) never appear here.
type JWK struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
}

// Manager parses the configured PKCS8 private key exactly once and serves
// the cached handles afterwards. A load failure is cached the same way so
// every signing request observes it.
type Manager struct {
	pemData string
	kid     string

	once    sync.Once
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	jwk     JWK
	err     error
}

// NewManager builds a manager around PEM-encoded PKCS8 key material. The
// key is not parsed until first use.
func NewManager(pemData, kid string) *Manager {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		kid = defaultKid
	}
	return &Manager{pemData: pemData, kid: kid}
}

func (m *Manager) load() {
	raw := strings.TrimSpace(m.pemData)
	if raw == "" {
		m.err = errMissingKey
		return
	}
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		m.err = errors.New("keys: invalid PEM signing key")
		return
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		m.err = fmt.Errorf("keys: parse PKCS8 key: %w", err)
		return
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		m.err = errors.New("keys: signing key is not RSA")
		return
	}
	m.private = key
	m.public = &key.PublicKey
	m.jwk = JWK{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		Alg: "RS256",
		Use: "sig",
		Kid: m.kid,
	}
}

// Private returns the cached private key handle.
func (m *Manager) Private() (*rsa.PrivateKey, error) {
	m.once.Do(m.load)
	if m.err != nil {
		return nil, m.err
	}
	return m.private, nil
}

// Public returns the cached public key handle.
func (m *Manager) Public() (*rsa.PublicKey, error) {
	m.once.Do(m.load)
	if m.err != nil {
		return nil, m.err
	}
	return m.public, nil
}

// PublicJWK returns the cached public JWK.
func (m *Manager) PublicJWK() (JWK, error) {
	m.once.Do(m.load)
	if m.err != nil {
		return JWK{}, m.err
	}
	return m.jwk, nil
}

// Kid returns the key identifier embedded in token headers.
func (m *Manager) Kid() string { return m.kid }
