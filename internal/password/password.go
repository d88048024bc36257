// Package password implements the credential verifier: salted
// PBKDF2-HMAC-SHA256 hashes in a self-describing encoded form.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	scheme            = "pbkdf2"
	defaultIterations = 120000
	saltLength        = 16
	keyLength         = 32
)

// Hash derives an encoded hash for the given password. The pepper is a
// server-wide secret appended to the password before derivation; it is not
// stored alongside the hash.
func Hash(password, pepper string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := derive(password, pepper, salt, defaultIterations)
	return fmt.Sprintf("%s$%d$%s$%s",
		scheme,
		defaultIterations,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key from the stored salt and iteration count and
// compares in constant time. Any malformed encoding fails closed.
func Verify(password, encoded, pepper string) bool {
	if encoded == "" {
		return false
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != scheme {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	derived := derive(password, pepper, salt, iterations)
	if len(derived) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(derived, expected) == 1
}

func derive(password, pepper string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password+pepper), salt, iterations, keyLength, sha256.New)
}
