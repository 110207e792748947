// Package utils holds the operator admin key helpers shared by the HTTP
// middleware and syncctl.
package utils

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	AdminKeyCost      = 12
	MinAdminKeyLength = 24
)

var ErrAdminKeyTooShort = fmt.Errorf("admin key must be at least %d characters long", MinAdminKeyLength)

// HashAdminKey produces the value operators put in ADMIN_KEY_HASH. Keys are
// often copied out of env files, so surrounding whitespace is dropped.
func HashAdminKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) < MinAdminKeyLength {
		return "", ErrAdminKeyTooShort
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), AdminKeyCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin key: %w", err)
	}
	return string(hashed), nil
}

// VerifyAdminKey reports whether key matches the configured hash. An
// unset hash matches nothing.
func VerifyAdminKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(key))) == nil
}
