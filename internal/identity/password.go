package identity

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Accounts are provisioned by admins, so the only local password rule is a
// minimum length; everything else is console policy.
const minPasswordLength = 8

// HashPassword derives the bcrypt hash stored on the account record.
func HashPassword(password string) (string, error) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > 72 {
		return "", fmt.Errorf("password exceeds the bcrypt limit of 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a login attempt against the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return fmt.Errorf("account has no password hash")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
