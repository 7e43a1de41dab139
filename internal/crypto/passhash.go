// Package crypto implements password verification for manual logins and random secret generation.
package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme identifies how a stored password hash was produced.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeBcrypt
	SchemeLegacyMD5 // hex(md5(password + salt))
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSecret returns a random signing secret of n bytes, base64url encoded.
func NewSecret(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Detect returns the scheme of a stored hash.
func Detect(stored string) Scheme {
	switch {
	case strings.HasPrefix(stored, "$2y$"), strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"):
		return SchemeBcrypt
	case len(stored) == md5.Size*2:
		return SchemeLegacyMD5
	}
	return SchemeUnknown
}

// HashPassword returns a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// LegacyHash returns hex(md5(password + salt)).
func LegacyHash(password, salt string) string {
	sum := md5.Sum([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks password against stored. needsUpgrade is true when the match
// was made against a legacy hash that should be replaced with bcrypt.
func VerifyPassword(password, stored, salt string) (ok, needsUpgrade bool) {
	if password == "" || stored == "" {
		return false, false
	}
	switch Detect(stored) {
	case SchemeBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
	case SchemeLegacyMD5:
		got := LegacyHash(password, salt)
		if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(stored))) == 1 {
			return true, true
		}
	}
	return false, false
}
