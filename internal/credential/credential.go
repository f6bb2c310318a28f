// Package credential hashes and verifies employee and owner passwords. The
// engine stores the result opaquely.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmpty = errors.New("password cannot be empty")

// Hash returns a bcrypt hash of password at the default cost.
func Hash(password string) (string, error) {
	return HashCost(password, bcrypt.DefaultCost)
}

func HashCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmpty
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether password matches hash. A mismatch is not an error.
func Verify(hash, password string) (bool, error) {
	if hash == "" || password == "" {
		return false, ErrEmpty
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}
