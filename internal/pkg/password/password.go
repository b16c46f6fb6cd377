package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt cost for user passwords
	DefaultCost = 12

	// AdminCodeCost is the bcrypt cost used for the admin code hash
	AdminCodeCost = 10

	// MinLength is the minimum accepted password length
	MinLength = 8
)

// ErrTooShort is returned when a password is shorter than MinLength
var ErrTooShort = errors.New("password must be at least 8 characters")

// Hash hashes a secret using bcrypt at the given cost
func Hash(secret string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify compares a secret with a hash
func Verify(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

// Validate checks if password meets requirements
func Validate(password string) error {
	if len(password) < MinLength {
		return ErrTooShort
	}
	return nil
}
