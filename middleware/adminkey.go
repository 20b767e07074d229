package middleware

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashAdminKey returns the bcrypt hash to store in security.admin_key_hash.
func HashAdminKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("middleware: hash admin key: %w", err)
	}
	return string(h), nil
}

// CheckAdminKey reports whether key matches hash. An empty hash accepts
// nothing.
func CheckAdminKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
