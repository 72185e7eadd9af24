package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when an admin login does not match.
var ErrInvalidCredentials = errors.New("auth: invalid admin credentials")

// HashPassword hashes a plain text password using bcrypt.
// Passwords longer than 72 bytes (bcrypt's maximum) are rejected.
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("password exceeds maximum length of 72 bytes")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// CheckPassword compares a plain text password with a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Credentials is the single admin login that may exchange a password for a
// bearer token.
type Credentials struct {
	Username     string
	PasswordHash string
}

// Enabled reports whether password login is configured.
func (c Credentials) Enabled() bool {
	return c.Username != "" && c.PasswordHash != ""
}

// Check verifies a login attempt.
func (c Credentials) Check(username, password string) error {
	if !c.Enabled() {
		return ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passOK := CheckPassword(password, c.PasswordHash)
	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}
